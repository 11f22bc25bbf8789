package schema

import (
	"fmt"
	"strings"
	"time"
)

// Payload is the kind-specific argument record of a queued operation.
// Only the types in this file implement it.
type Payload interface {
	Kind() Kind
	Validate() error
	payload()
}

// Address is the postal address of a client.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// Blob references binary content attached to an operation. Content captured
// offline is kept inline in Data; content already hosted elsewhere is
// referenced by URL.
type Blob struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Validate checks that the blob points at some content.
func (b Blob) Validate() error {
	if len(b.Data) == 0 && b.URL == "" {
		return fmt.Errorf("blob %q has neither data nor url", b.Name)
	}
	return nil
}

// Date is a calendar day as entered by the user.
type Date struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date{Day: t.Day(), Month: int(t.Month()), Year: t.Year()}
}

// Validate rejects dates that do not exist on the calendar.
func (d Date) Validate() error {
	if d.Year < 1 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return fmt.Errorf("invalid date %04d-%02d-%02d", d.Year, d.Month, d.Day)
	}
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	if t.Day() != d.Day {
		return fmt.Errorf("invalid date %04d-%02d-%02d", d.Year, d.Month, d.Day)
	}
	return nil
}

// Parts returns day, month and year in the backend's wire type.
func (d Date) Parts() (day, month, year uint64) {
	return uint64(d.Day), uint64(d.Month), uint64(d.Year)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func validateMedia(media []Blob) error {
	for i, b := range media {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("media[%d]: %w", i, err)
		}
	}
	return nil
}

// ClientPayload creates a client or overwrites its contact information.
type ClientPayload struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
	Phone   string  `json:"phone"`
	Email   string  `json:"email"`
}

func (*ClientPayload) Kind() Kind { return KindCreateOrUpdateClient }
func (*ClientPayload) payload()   {}

func (p *ClientPayload) Validate() error {
	if err := required("id", p.ID); err != nil {
		return err
	}
	return required("name", p.Name)
}

// AddInterventionPayload logs a service visit for a client.
type AddInterventionPayload struct {
	ClientID string `json:"client_id"`
	Comments string `json:"comments"`
	Media    []Blob `json:"media"`
	Date     Date   `json:"date"`
}

func (*AddInterventionPayload) Kind() Kind { return KindAddIntervention }
func (*AddInterventionPayload) payload()   {}

func (p *AddInterventionPayload) Validate() error {
	if err := required("client_id", p.ClientID); err != nil {
		return err
	}
	if err := p.Date.Validate(); err != nil {
		return err
	}
	return validateMedia(p.Media)
}

// UpdateInterventionPayload replaces the content of an existing intervention.
type UpdateInterventionPayload struct {
	InterventionID string `json:"intervention_id"`
	ClientID       string `json:"client_id"`
	Comments       string `json:"comments"`
	Media          []Blob `json:"media"`
	Date           Date   `json:"date"`
}

func (*UpdateInterventionPayload) Kind() Kind { return KindUpdateIntervention }
func (*UpdateInterventionPayload) payload()   {}

func (p *UpdateInterventionPayload) Validate() error {
	if err := required("intervention_id", p.InterventionID); err != nil {
		return err
	}
	if err := required("client_id", p.ClientID); err != nil {
		return err
	}
	if err := p.Date.Validate(); err != nil {
		return err
	}
	return validateMedia(p.Media)
}

// DeleteInterventionPayload removes an intervention.
type DeleteInterventionPayload struct {
	InterventionID string `json:"intervention_id"`
	ClientID       string `json:"client_id"`
}

func (*DeleteInterventionPayload) Kind() Kind { return KindDeleteIntervention }
func (*DeleteInterventionPayload) payload()   {}

func (p *DeleteInterventionPayload) Validate() error {
	if err := required("intervention_id", p.InterventionID); err != nil {
		return err
	}
	return required("client_id", p.ClientID)
}

// MarkBlacklistedPayload flags a client as blacklisted with a justification.
type MarkBlacklistedPayload struct {
	ClientID string `json:"client_id"`
	Comments string `json:"comments"`
	Media    []Blob `json:"media"`
}

func (*MarkBlacklistedPayload) Kind() Kind { return KindMarkBlacklisted }
func (*MarkBlacklistedPayload) payload()   {}

func (p *MarkBlacklistedPayload) Validate() error {
	if err := required("client_id", p.ClientID); err != nil {
		return err
	}
	return validateMedia(p.Media)
}

// UnmarkBlacklistedPayload clears the blacklist flag of a client.
type UnmarkBlacklistedPayload struct {
	ClientID string `json:"client_id"`
}

func (*UnmarkBlacklistedPayload) Kind() Kind { return KindUnmarkBlacklisted }
func (*UnmarkBlacklistedPayload) payload()   {}

func (p *UnmarkBlacklistedPayload) Validate() error {
	return required("client_id", p.ClientID)
}

// UploadFilePayload stores a document in the technical folder tree.
type UploadFilePayload struct {
	Path string `json:"path"`
	Blob Blob   `json:"blob"`
}

func (*UploadFilePayload) Kind() Kind { return KindUploadFile }
func (*UploadFilePayload) payload()   {}

func (p *UploadFilePayload) Validate() error {
	if err := required("path", p.Path); err != nil {
		return err
	}
	return p.Blob.Validate()
}

// MoveFilePayload moves a document to another path.
type MoveFilePayload struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

func (*MoveFilePayload) Kind() Kind { return KindMoveFile }
func (*MoveFilePayload) payload()   {}

func (p *MoveFilePayload) Validate() error {
	if err := required("old_path", p.OldPath); err != nil {
		return err
	}
	return required("new_path", p.NewPath)
}

// RenameFolderPayload renames the last segment of a folder path.
type RenameFolderPayload struct {
	OldPath string `json:"old_path"`
	NewName string `json:"new_name"`
}

func (*RenameFolderPayload) Kind() Kind { return KindRenameFolder }
func (*RenameFolderPayload) payload()   {}

func (p *RenameFolderPayload) Validate() error {
	if err := required("old_path", p.OldPath); err != nil {
		return err
	}
	if err := required("new_name", p.NewName); err != nil {
		return err
	}
	if strings.Contains(p.NewName, "/") {
		return fmt.Errorf("new_name must not contain '/' (got %q)", p.NewName)
	}
	return nil
}

// CreateFolderPayload creates an empty folder.
type CreateFolderPayload struct {
	Path string `json:"path"`
}

func (*CreateFolderPayload) Kind() Kind { return KindCreateFolder }
func (*CreateFolderPayload) payload()   {}

func (p *CreateFolderPayload) Validate() error {
	return required("path", p.Path)
}
