package source

import (
	"context"
	"encoding/xml"
	"os"
	"strconv"
	"time"
)

// smsBackup is the "SMS Backup & Restore" export layout.
type smsBackup struct {
	XMLName xml.Name    `xml:"smses"`
	SMS     []backupSMS `xml:"sms"`
}

type backupSMS struct {
	Address string `xml:"address,attr"`
	Body    string `xml:"body,attr"`
	Date    string `xml:"date,attr"`
	Type    string `xml:"type,attr"`
}

// XMLBackup reads an "SMS Backup & Restore" XML file. Only inbox messages
// (type 1) are returned.
type XMLBackup struct {
	Path string
}

func (x *XMLBackup) ListMessages(ctx context.Context, f Filter) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(x.Path)
	if err != nil {
		return nil, readError(x.Path, err)
	}

	var backup smsBackup
	if err := xml.Unmarshal(data, &backup); err != nil {
		return nil, decodeError(x.Path, err)
	}

	msgs := make([]Message, 0, len(backup.SMS))
	for i, sms := range backup.SMS {
		if sms.Type != "" && sms.Type != "1" {
			continue
		}
		ms, err := strconv.ParseInt(sms.Date, 10, 64)
		if err != nil {
			continue
		}
		msgs = append(msgs, Message{
			ID:       strconv.Itoa(i),
			Sender:   sms.Address,
			Body:     sms.Body,
			Received: time.UnixMilli(ms),
		})
	}
	return apply(msgs, f), nil
}
