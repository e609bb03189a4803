package order

import "fmt"

// Payload is the transport-agnostic body of an inbound message. At most one
// variant is expected to be set; text wins when several are.
type Payload struct {
	Text     string
	Document *DocumentRef
	Photos   []PhotoRef
}

// DocumentRef points at an uploaded file held by the transport. Only the
// opaque id is kept, never the bytes.
type DocumentRef struct {
	FileID string
	Name   string
}

// PhotoRef is one resolution variant of an uploaded image.
type PhotoRef struct {
	FileID string
	Width  int
	Height int
}

// Extract turns a payload into order content plus an optional file
// reference. For images the highest-resolution variant is kept.
func (p Payload) Extract() (content string, fileID *string, err error) {
	switch {
	case p.Text != "":
		return p.Text, nil, nil
	case p.Document != nil:
		id := p.Document.FileID
		return fmt.Sprintf("File: %s", p.Document.Name), &id, nil
	case len(p.Photos) > 0:
		best := p.Photos[0]
		for _, ph := range p.Photos[1:] {
			if ph.Width*ph.Height > best.Width*best.Height {
				best = ph
			}
		}
		id := best.FileID
		return "Photo upload", &id, nil
	}
	return "", nil, ErrEmptyPayload
}
