package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const backupXML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<smses count="5">
  <sms protocol="0" address="MPESA" date="1766672520000" type="1" body="TLP3V28BZJ Confirmed.You have received Ksh2,030.00 from BENSON KHANDA 0715248638 on 25/12/25 at 5:22 PM" />
  <sms protocol="0" address="MPESA" date="1766672520000" type="1" body="TLP3V28BZJ Confirmed.You have received Ksh2,030.00 from BENSON KHANDA 0715248638 on 25/12/25 at 5:22 PM" />
  <sms protocol="0" address="MPESA" date="1767011820000" type="1" body="TLTKD2C8VP Confirmed. Ksh100.00 sent to Justine arege 0114218371 on 29/12/25 at 2:37 PM." />
  <sms protocol="0" address="MPESA" date="1767011900000" type="2" body="outgoing text" />
  <sms protocol="0" address="KCB" date="1766942000000" type="1" body="Ksh40.00 sent to KCB account FAADI INVESTMENT 7930569 has been received." />
</smses>`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestXMLBackup_FiltersDedupsAndSorts(t *testing.T) {
	src := &XMLBackup{Path: writeFile(t, "backup.xml", backupXML)}

	msgs, err := src.ListMessages(context.Background(), Filter{Sender: "mpesa"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Newest first, duplicate collapsed, outgoing dropped.
	assert.Contains(t, msgs[0].Body, "TLTKD2C8VP")
	assert.Contains(t, msgs[1].Body, "TLP3V28BZJ")
	assert.Equal(t, time.UnixMilli(1767011820000), msgs[0].Received)
	assert.Equal(t, "MPESA", msgs[0].Sender)
}

func TestXMLBackup_MaxCountAndSince(t *testing.T) {
	src := &XMLBackup{Path: writeFile(t, "backup.xml", backupXML)}

	msgs, err := src.ListMessages(context.Background(), Filter{Sender: "MPESA", MaxCount: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "TLTKD2C8VP")

	msgs, err = src.ListMessages(context.Background(), Filter{Since: time.UnixMilli(1766942000000)})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "MPESA", msgs[0].Sender)
	assert.Equal(t, "KCB", msgs[1].Sender)
}

func TestXMLBackup_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := (&XMLBackup{Path: filepath.Join(t.TempDir(), "missing.xml")}).ListMessages(ctx, Filter{})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.NotErrorIs(t, err, ErrPermissionDenied)

	_, err = (&XMLBackup{Path: writeFile(t, "bad.xml", "<smses><sms")}).ListMessages(ctx, Filter{})
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestXMLBackup_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := writeFile(t, "locked.xml", backupXML)
	require.NoError(t, os.Chmod(path, 0o000))

	_, err := (&XMLBackup{Path: path}).ListMessages(context.Background(), Filter{})
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestJSONDump_NumbersAndStrings(t *testing.T) {
	dump := `[
		{"_id": 12, "address": "LOOP", "body": "first", "date": 1756677175000, "type": 1},
		{"_id": "13", "address": "LOOP", "body": "second", "date": "1756677185000"},
		{"_id": 14, "address": "LOOP", "body": "sent item", "date": 1756677195000, "type": 2}
	]`
	src := &JSONDump{Path: writeFile(t, "dump.json", dump)}

	msgs, err := src.ListMessages(context.Background(), Filter{Sender: "LOOP"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Body)
	assert.Equal(t, "13", msgs[0].ID)
	assert.Equal(t, "12", msgs[1].ID)
}

func TestJSONDump_Malformed(t *testing.T) {
	_, err := (&JSONDump{Path: writeFile(t, "dump.json", `{"not": "an array"}`)}).ListMessages(context.Background(), Filter{})
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestOpen_InfersFormat(t *testing.T) {
	src, err := Open("/tmp/backup.XML", "")
	require.NoError(t, err)
	assert.IsType(t, &XMLBackup{}, src)

	src, err = Open("/tmp/export.txt", "json")
	require.NoError(t, err)
	assert.IsType(t, &JSONDump{}, src)

	_, err = Open("/tmp/export.csv", "")
	require.Error(t, err)
}

func TestStatic_DefaultMaxCount(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var msgs Static
	for i := 0; i < 250; i++ {
		msgs = append(msgs, Message{Sender: "KCB", Body: "msg", Received: base.Add(time.Duration(i) * time.Minute)})
	}

	out, err := msgs.ListMessages(context.Background(), Filter{Sender: "KCB"})
	require.NoError(t, err)
	assert.Len(t, out, 200)
	assert.Equal(t, base.Add(249*time.Minute), out[0].Received)

	assert.Equal(t, 1000, DefaultMaxCount("mpesa"))
	assert.Equal(t, 0, DefaultMaxCount("SAFARICOM"))
}

func TestStatic_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Static{}.ListMessages(ctx, Filter{})
	require.ErrorIs(t, err, context.Canceled)
}
