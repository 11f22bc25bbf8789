// Package memory is an in-process implementation of backend.Backend that
// enforces the same authorization and existence rules as the production
// backend. It serves local development and tests.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// Client is the stored state of a client record.
type Client struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Address           schema.Address `json:"address"`
	Phone             string         `json:"phone"`
	Email             string         `json:"email"`
	IsBlacklisted     bool           `json:"is_blacklisted"`
	BlacklistComments string         `json:"blacklist_comments,omitempty"`
	BlacklistMedia    []schema.Blob  `json:"blacklist_media,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Intervention is a stored service visit.
type Intervention struct {
	ID        string            `json:"id"`
	ClientID  string            `json:"client_id"`
	Employee  backend.Principal `json:"employee"`
	Comments  string            `json:"comments"`
	Media     []schema.Blob     `json:"media,omitempty"`
	Date      schema.Date       `json:"date"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Backend holds all records in memory. The zero value is not usable; call New.
type Backend struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	interventions map[string]*Intervention
	files         map[string]schema.Blob
	folders       map[string]struct{}
	journal       []string

	unavailable atomic.Bool
	now         func() time.Time
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		clients:       make(map[string]*Client),
		interventions: make(map[string]*Intervention),
		files:         make(map[string]schema.Blob),
		folders:       make(map[string]struct{}),
		now:           time.Now,
	}
}

var _ backend.Backend = (*Backend)(nil)

// SetUnavailable makes every call fail with backend.ErrUnavailable until
// reset, simulating an outage.
func (b *Backend) SetUnavailable(down bool) {
	b.unavailable.Store(down)
}

// begin authenticates the caller and checks availability.
func (b *Backend) begin(ctx context.Context) (backend.Principal, error) {
	if err := ctx.Err(); err != nil {
		return "", backend.Wrap(backend.CodeUnavailable, "request aborted", err)
	}
	if b.unavailable.Load() {
		return "", backend.ErrUnavailable
	}
	p, ok := backend.PrincipalFrom(ctx)
	if !ok {
		return "", backend.New(backend.CodeUnauthorized, "Unauthorized: only users can perform this action")
	}
	return p, nil
}

func (b *Backend) record(call string, args ...any) {
	b.journal = append(b.journal, fmt.Sprintf("%s(%s)", call, joinArgs(args)))
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ", ")
}

func toDate(day, month, year uint64) (schema.Date, error) {
	d := schema.Date{Day: int(day), Month: int(month), Year: int(year)}
	if day > 31 || month > 12 || year > 9999 {
		return d, backend.New(backend.CodeInvalid, fmt.Sprintf("invalid date %d-%d-%d", year, month, day))
	}
	if err := d.Validate(); err != nil {
		return d, backend.Wrap(backend.CodeInvalid, "invalid date", err)
	}
	return d, nil
}

func validateMedia(media []schema.Blob) error {
	for _, m := range media {
		if err := m.Validate(); err != nil {
			return backend.Wrap(backend.CodeInvalid, "invalid media", err)
		}
	}
	return nil
}

func (b *Backend) CreateOrUpdateClient(ctx context.Context, id, name string, address schema.Address, phone, email string) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return backend.New(backend.CodeInvalid, "client id and name are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[id]
	if !ok {
		c = &Client{ID: id}
		b.clients[id] = c
	}
	c.Name = name
	c.Address = address
	c.Phone = phone
	c.Email = email
	c.UpdatedAt = b.now()

	b.record("createOrUpdateClient", id)
	return nil
}

func (b *Backend) AddIntervention(ctx context.Context, clientID, comments string, media []schema.Blob, day, month, year uint64) error {
	caller, err := b.begin(ctx)
	if err != nil {
		return err
	}
	date, err := toDate(day, month, year)
	if err != nil {
		return err
	}
	if err := validateMedia(media); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[clientID]; !ok {
		return backend.New(backend.CodeNotFound, "Client not found")
	}

	iv := &Intervention{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Employee:  caller,
		Comments:  comments,
		Media:     media,
		Date:      date,
		UpdatedAt: b.now(),
	}
	b.interventions[iv.ID] = iv

	b.record("addIntervention", clientID, date)
	return nil
}

// lookupIntervention returns the intervention if it exists under clientID
// and caller owns it.
func (b *Backend) lookupIntervention(interventionID, clientID string, caller backend.Principal, verb string) (*Intervention, error) {
	iv, ok := b.interventions[interventionID]
	if !ok || iv.ClientID != clientID {
		return nil, backend.New(backend.CodeNotFound, "Intervention not found")
	}
	if iv.Employee != caller {
		return nil, backend.New(backend.CodeOwnership, fmt.Sprintf("You can only %s your own interventions", verb))
	}
	return iv, nil
}

func (b *Backend) UpdateIntervention(ctx context.Context, interventionID, clientID, comments string, media []schema.Blob, day, month, year uint64) error {
	caller, err := b.begin(ctx)
	if err != nil {
		return err
	}
	date, err := toDate(day, month, year)
	if err != nil {
		return err
	}
	if err := validateMedia(media); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	iv, err := b.lookupIntervention(interventionID, clientID, caller, "edit")
	if err != nil {
		return err
	}
	iv.Comments = comments
	iv.Media = media
	iv.Date = date
	iv.UpdatedAt = b.now()

	b.record("updateIntervention", interventionID)
	return nil
}

func (b *Backend) DeleteIntervention(ctx context.Context, interventionID, clientID string) error {
	caller, err := b.begin(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lookupIntervention(interventionID, clientID, caller, "delete"); err != nil {
		return err
	}
	delete(b.interventions, interventionID)

	b.record("deleteIntervention", interventionID)
	return nil
}

func (b *Backend) MarkAsBlacklisted(ctx context.Context, clientID, comments string, media []schema.Blob) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}
	if err := validateMedia(media); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[clientID]
	if !ok {
		return backend.New(backend.CodeNotFound, "Client not found")
	}
	c.IsBlacklisted = true
	c.BlacklistComments = comments
	c.BlacklistMedia = media
	c.UpdatedAt = b.now()

	b.record("markAsBlacklisted", clientID)
	return nil
}

func (b *Backend) UnmarkAsBlacklisted(ctx context.Context, clientID string) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[clientID]
	if !ok {
		return backend.New(backend.CodeNotFound, "Client not found")
	}
	c.IsBlacklisted = false
	c.BlacklistComments = ""
	c.BlacklistMedia = nil
	c.UpdatedAt = b.now()

	b.record("unmarkAsBlacklisted", clientID)
	return nil
}

func cleanPath(p string) (string, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", backend.New(backend.CodeInvalid, "path is required")
	}
	return p, nil
}

func (b *Backend) UploadTechnicalFile(ctx context.Context, filePath string, blob schema.Blob) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}
	p, err := cleanPath(filePath)
	if err != nil {
		return err
	}
	if err := blob.Validate(); err != nil {
		return backend.Wrap(backend.CodeInvalid, "invalid file", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.files[p] = blob
	b.record("uploadTechnicalFile", p)
	return nil
}

func (b *Backend) MoveTechnicalFile(ctx context.Context, oldPath, newPath string) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}
	from, err := cleanPath(oldPath)
	if err != nil {
		return err
	}
	to, err := cleanPath(newPath)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	blob, ok := b.files[from]
	if !ok {
		return backend.New(backend.CodeNotFound, "File not found")
	}
	if from == to {
		return nil
	}
	if _, exists := b.files[to]; exists {
		return backend.New(backend.CodeInvalid, fmt.Sprintf("A file already exists at %s", to))
	}
	delete(b.files, from)
	b.files[to] = blob

	b.record("moveTechnicalFile", from, to)
	return nil
}

// folderExists reports whether p was created explicitly or holds files.
func (b *Backend) folderExists(p string) bool {
	if _, ok := b.folders[p]; ok {
		return true
	}
	prefix := p + "/"
	for f := range b.files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	for f := range b.folders {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

func (b *Backend) RenameFolder(ctx context.Context, oldPath, newName string) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}
	from, err := cleanPath(oldPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(newName) == "" || strings.Contains(newName, "/") {
		return backend.New(backend.CodeInvalid, fmt.Sprintf("invalid folder name %q", newName))
	}
	to := newName
	if dir := path.Dir(from); dir != "." {
		to = dir + "/" + newName
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.folderExists(from) {
		return backend.New(backend.CodeNotFound, "Folder not found")
	}
	if from == to {
		return nil
	}
	if b.folderExists(to) {
		return backend.New(backend.CodeInvalid, fmt.Sprintf("A folder already exists at %s", to))
	}

	rebase := func(p string) (string, bool) {
		if p == from {
			return to, true
		}
		if rest, ok := strings.CutPrefix(p, from+"/"); ok {
			return to + "/" + rest, true
		}
		return "", false
	}

	files := make(map[string]schema.Blob, len(b.files))
	for p, blob := range b.files {
		if np, ok := rebase(p); ok {
			p = np
		}
		files[p] = blob
	}
	folders := make(map[string]struct{}, len(b.folders))
	for p := range b.folders {
		if np, ok := rebase(p); ok {
			p = np
		}
		folders[p] = struct{}{}
	}
	b.files = files
	b.folders = folders

	b.record("renameFolder", from, newName)
	return nil
}

// CreateFolder creates an empty folder. Creating an existing folder succeeds.
func (b *Backend) CreateFolder(ctx context.Context, folderPath string) error {
	if _, err := b.begin(ctx); err != nil {
		return err
	}
	p, err := cleanPath(folderPath)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.folders[p] = struct{}{}
	b.record("createFolder", p)
	return nil
}

// Journal returns the successful mutations in the order they were applied.
func (b *Backend) Journal() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.journal))
	copy(out, b.journal)
	return out
}

// GetClient returns a copy of the client with the given id.
func (b *Backend) GetClient(id string) (Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[id]
	if !ok {
		return Client{}, backend.New(backend.CodeNotFound, "Client not found")
	}
	return *c, nil
}

// Clients returns all clients ordered by id.
func (b *Backend) Clients() []Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClientInterventions returns a client's interventions, oldest date first.
func (b *Backend) ClientInterventions(clientID string) []Intervention {
	return b.filterInterventions(func(iv *Intervention) bool { return iv.ClientID == clientID })
}

// InterventionsByDate returns all interventions on the given day.
func (b *Backend) InterventionsByDate(d schema.Date) []Intervention {
	return b.filterInterventions(func(iv *Intervention) bool { return iv.Date == d })
}

func (b *Backend) filterInterventions(keep func(*Intervention) bool) []Intervention {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Intervention
	for _, iv := range b.interventions {
		if keep(iv) {
			out = append(out, *iv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.String() < out[j].Date.String()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TechnicalFiles returns the paths of all stored files, sorted.
func (b *Backend) TechnicalFiles() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.files))
	for p := range b.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Folders returns the explicitly created folders, sorted.
func (b *Backend) Folders() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.folders))
	for p := range b.folders {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
