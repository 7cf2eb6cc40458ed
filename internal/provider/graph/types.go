// Package graph implements a Provider that sends messages via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"maps"
	"slices"
	"strings"

	"github.com/shineum/mailcompose/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	From                   *recipient        `json:"from,omitempty"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageID      string            `json:"internetMessageId,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// messageHeader is a custom header. Graph only accepts names starting with "X-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest converts a built message into a sendMail request body.
// The From address is only set when it differs from the sending mailbox.
func buildSendMailRequest(sender string, msg *email.Message, saveToSent bool) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.Content().Body}
	if msg.IsHTML() {
		body.ContentType = "html"
	}

	m := sendMailMessage{
		Subject:           msg.Subject(),
		Body:              body,
		ToRecipients:      recipients(msg.To()),
		CcRecipients:      recipients(msg.Cc()),
		BccRecipients:     recipients(msg.Bcc()),
		ReplyTo:           recipients(msg.ReplyTo()),
		InternetMessageID: "<" + msg.MessageID() + ">",
	}
	if m.ToRecipients == nil {
		m.ToRecipients = []recipient{}
	}

	if from := msg.From(); !strings.EqualFold(from.Addr(), sender) {
		r := toRecipient(from)
		m.From = &r
	}

	headers := msg.Headers()
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		if !strings.HasPrefix(strings.ToLower(name), "x-") {
			continue
		}
		m.InternetMessageHeaders = append(m.InternetMessageHeaders, messageHeader{
			Name:  name,
			Value: headers[name],
		})
	}

	for _, att := range msg.Attachments() {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Data),
		})
	}

	return &sendMailRequest{Message: m, SaveToSentItems: saveToSent}
}

func recipients(addrs []email.Address) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, toRecipient(a))
	}
	return out
}

func toRecipient(a email.Address) recipient {
	return recipient{EmailAddress: emailAddress{Name: a.Name(), Address: a.Addr()}}
}
