// Package parser extracts normalized plain text and envelope metadata
// from the supported document formats. Malformed inputs surface as
// values, never as panics that could kill the intake pipeline.
package parser

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
)

// Address is a normalized mail participant.
type Address struct {
	Email string
	Name  string
}

// Recipient carries the header field the address appeared in.
type Recipient struct {
	Address
	Field string // to, cc or bcc
}

// Message is one logical message out of a mail archive. Err is set when
// the archive entry could not be parsed; the other fields then hold
// whatever was recovered.
type Message struct {
	MessageID  string
	Sender     Address
	Recipients []Recipient
	Subject    string
	BodyText   string
	Date       time.Time
	Err        error
}

// MboxScanner walks an mbox archive one message at a time, in the lazy
// sequence style: callers pull messages until io.EOF.
type MboxScanner struct {
	r       *bufio.Reader
	started bool
	done    bool
}

// NewMboxScanner reads messages from r. Content before the first
// postmark is skipped; an input with no postmark at all (a bare .eml)
// is treated as one whole message.
func NewMboxScanner(r io.Reader) *MboxScanner {
	return &MboxScanner{r: bufio.NewReader(r)}
}

// Next returns the next message, or io.EOF after the last one.
// Per-entry parse failures come back as a Message with Err set.
func (s *MboxScanner) Next() (*Message, error) {
	raw, err := s.nextEntry()
	if err != nil {
		return nil, err
	}
	return parseEntry(raw), nil
}

// nextEntry accumulates lines until the next "From " postmark.
func (s *MboxScanner) nextEntry() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	var (
		buf     bytes.Buffer
		prelude bytes.Buffer
		started = s.started
	)

	for {
		line, err := s.r.ReadBytes('\n')
		atEOF := err == io.EOF
		if err != nil && !atEOF {
			return nil, err
		}

		if bytes.HasPrefix(line, []byte("From ")) {
			if started && buf.Len() > 0 {
				// Postmark of the following message: put it back by
				// remembering we are mid-stream.
				s.started = true
				s.pushBack(line)
				return buf.Bytes(), nil
			}
			started = true
			s.started = true
			// The postmark line itself is not part of the message.
		} else if started {
			buf.Write(unstuffFrom(line))
		} else {
			prelude.Write(line)
		}

		if atEOF {
			s.done = true
			if buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			// No postmark anywhere: a bare RFC 5322 message (.eml) is
			// the whole input. Content preceding a postmark is still
			// discarded as mbox leading garbage.
			if !started && len(bytes.TrimSpace(prelude.Bytes())) > 0 {
				return prelude.Bytes(), nil
			}
			return nil, io.EOF
		}
	}
}

// pushBack re-queues a consumed postmark line for the next call.
func (s *MboxScanner) pushBack(line []byte) {
	s.r = bufio.NewReader(io.MultiReader(bytes.NewReader(line), s.r))
	s.started = false
}

// unstuffFrom reverses mboxrd quoting: one ">" is removed from lines
// matching >+From.
func unstuffFrom(line []byte) []byte {
	trimmed := line
	for len(trimmed) > 0 && trimmed[0] == '>' {
		trimmed = trimmed[1:]
	}
	if bytes.HasPrefix(trimmed, []byte("From ")) && len(trimmed) < len(line) {
		return line[1:]
	}
	return line
}

var headerDecoder = new(mime.WordDecoder)

func parseEntry(raw []byte) *Message {
	msg := &Message{}

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		msg.Err = fmt.Errorf("read message: %w", err)
		return msg
	}

	msg.MessageID = strings.Trim(parsed.Header.Get("Message-Id"), "<> \t")
	msg.Subject = decodeHeader(parsed.Header.Get("Subject"))

	if date, err := parsed.Header.Date(); err == nil {
		msg.Date = date.UTC()
	}

	sender, err := parseFirstAddress(parsed.Header.Get("From"))
	if err != nil {
		msg.Err = fmt.Errorf("parse sender: %w", err)
		return msg
	}
	msg.Sender = sender

	for _, field := range []string{"to", "cc", "bcc"} {
		value := parsed.Header.Get(field)
		if value == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(decodeHeader(value))
		if err != nil {
			continue
		}
		for _, a := range addrs {
			msg.Recipients = append(msg.Recipients, Recipient{
				Address: Address{Email: strings.ToLower(a.Address), Name: a.Name},
				Field:   field,
			})
		}
	}

	body, err := extractBody(parsed.Header, parsed.Body)
	if err != nil {
		msg.Err = fmt.Errorf("extract body: %w", err)
		return msg
	}
	msg.BodyText = body
	return msg
}

func parseFirstAddress(header string) (Address, error) {
	if strings.TrimSpace(header) == "" {
		return Address{}, fmt.Errorf("missing From header")
	}
	addr, err := mail.ParseAddress(decodeHeader(header))
	if err != nil {
		// Tolerate lists in From; take the first entry.
		addrs, listErr := mail.ParseAddressList(decodeHeader(header))
		if listErr != nil || len(addrs) == 0 {
			return Address{}, err
		}
		addr = addrs[0]
	}
	return Address{Email: strings.ToLower(addr.Address), Name: addr.Name}, nil
}

func decodeHeader(value string) string {
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// extractBody prefers text/plain, falls back to stripped HTML, skips
// attachments, and decodes transfer encodings.
func extractBody(header mail.Header, body io.Reader) (string, error) {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", fmt.Errorf("multipart message without boundary")
		}
		return extractMultipart(body, boundary)
	}

	decoded, err := decodeTransfer(body, header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return "", err
	}

	switch {
	case strings.HasPrefix(mediaType, "text/plain"):
		return string(decoded), nil
	case strings.HasPrefix(mediaType, "text/html"):
		return StripHTML(string(decoded)), nil
	default:
		return "", nil
	}
}

func extractMultipart(body io.Reader, boundary string) (string, error) {
	var htmlFallback string

	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read part: %w", err)
		}

		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(strings.ToLower(disposition), "attachment") {
			continue
		}

		partType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(partType, "multipart/"):
			if nested, err := extractMultipart(part, params["boundary"]); err == nil && nested != "" {
				return nested, nil
			}
		case partType == "text/plain":
			decoded, err := decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding"))
			if err == nil {
				return string(decoded), nil
			}
		case partType == "text/html" && htmlFallback == "":
			decoded, err := decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding"))
			if err == nil {
				htmlFallback = StripHTML(string(decoded))
			}
		}
	}

	return htmlFallback, nil
}

func decodeTransfer(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		// The decoder ignores \r and \n, so wrapped bodies are fine.
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return data, nil
}
