package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/clientdossiers/dsync/internal/offline/schema"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts an ISO date ("2025-03-04") or a natural-language one
// ("today", "last friday", "3 days ago") relative to now.
func parseDate(text string, now time.Time) (schema.Date, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return schema.DateOf(now), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return schema.DateOf(t), nil
	}

	r, err := dateParser.Parse(text, now)
	if err != nil {
		return schema.Date{}, fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return schema.Date{}, fmt.Errorf("unrecognized date %q", text)
	}
	return schema.DateOf(r.Time), nil
}

// loadBlob turns a media argument into a Blob: http(s) references are kept
// as URLs, anything else is read from disk.
func loadBlob(ref string) (schema.Blob, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return schema.Blob{Name: filepath.Base(ref), URL: ref}, nil
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return schema.Blob{}, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return schema.Blob{
		Name:        filepath.Base(ref),
		ContentType: mime.TypeByExtension(filepath.Ext(ref)),
		Data:        data,
	}, nil
}

func loadBlobs(refs []string) ([]schema.Blob, error) {
	var blobs []schema.Blob
	for _, ref := range refs {
		b, err := loadBlob(ref)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, nil
}

func requireText(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// clientForm edits p in place. Fields already set by flags are prefilled.
func clientForm(p *schema.ClientPayload) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Name").Value(&p.Name).Validate(requireText("name")),
			huh.NewInput().Title("Phone").Value(&p.Phone),
			huh.NewInput().Title("Email").Value(&p.Email),
		),
		huh.NewGroup(
			huh.NewInput().Title("Street").Value(&p.Address.Street),
			huh.NewInput().Title("City").Value(&p.Address.City),
			huh.NewInput().Title("State").Value(&p.Address.State),
			huh.NewInput().Title("Zip").Value(&p.Address.Zip),
		).Title("Address"),
	)
}

func promptClient(p *schema.ClientPayload) error {
	if err := clientForm(p).Run(); err != nil {
		return fmt.Errorf("failed to read client details: %w", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	return nil
}
