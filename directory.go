package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minus-twelve/roster/internal/seed"
	"github.com/minus-twelve/roster/storage"
	"github.com/minus-twelve/roster/types"
	"github.com/sirupsen/logrus"
)

const DefaultPageSize = 6

// Directory is the record service the CLI and the offline server work
// against. It validates before every mutation and leaves ordering and
// paging to callers of GetAll.
type Directory struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time

	// serialises id assignment so concurrent adds never pick the same id
	addMutex sync.Mutex
}

func NewDirectory(store Store, log logrus.FieldLogger) *Directory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Directory{store: store, log: log, now: time.Now}
}

// OpenDirectory builds the configured store. When that store cannot be
// opened the directory falls back to an in-memory copy of the default
// dataset.
func OpenDirectory(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Directory, error) {
	store, err := CreateStore(cfg)
	if err != nil {
		return nil, err
	}
	d := NewDirectory(store, log)

	err = store.Initialize(ctx)
	if errors.Is(err, types.ErrStorageUnavailable) {
		d.log.WithError(err).Warn("durable storage unavailable, using in-memory default dataset")
		_ = store.Close()
		d.store = storage.NewMemoryStore()
		if err := d.store.Initialize(ctx); err != nil {
			return nil, err
		}
		return d, d.Seed(ctx)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Seed {
		all, err := store.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			if err := d.Seed(ctx); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

func (d *Directory) Store() Store {
	return d.store
}

func (d *Directory) Close() error {
	return d.store.Close()
}

// Seed adds the embedded default dataset, skipping ids already present.
func (d *Directory) Seed(ctx context.Context) error {
	records, err := seed.Records()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := d.store.Add(ctx, rec); err != nil && !errors.Is(err, types.ErrDuplicateKey) {
			return fmt.Errorf("seed record %d: %w", rec.ID, err)
		}
	}
	d.log.WithField("count", len(records)).Info("seeded default dataset")
	return nil
}

// applyDefaults fills what the add form pre-selects.
func (d *Directory) applyDefaults(rec *types.Record) {
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.Kind == "" {
		if rec.Project != nil {
			rec.Kind = types.KindProject
		} else {
			rec.Kind = types.KindEmployee
		}
	}
	if rec.Kind == types.KindEmployee && rec.Employee == nil {
		rec.Employee = &types.EmployeeFields{}
	}
	if rec.Kind == types.KindProject && rec.Project == nil {
		rec.Project = &types.ProjectFields{}
	}
	if e := rec.Employee; e != nil {
		if e.Position == "" {
			e.Position = "Employee"
		}
		if e.Department == "" {
			e.Department = "General"
		}
	}
	if rec.Status == "" {
		rec.Status = types.StatusActive
	}
	if rec.Currency == "" {
		rec.Currency = types.USD
	}
	if rec.Joined == "" {
		rec.Joined = d.now().Format("2006-01-02")
	}
}

// Add validates rec, assigns the next free id when rec.ID is zero and
// stores it.
func (d *Directory) Add(ctx context.Context, rec types.Record) (types.Record, error) {
	d.applyDefaults(&rec)
	if err := ValidateRecord(rec); err != nil {
		return types.Record{}, err
	}

	d.addMutex.Lock()
	defer d.addMutex.Unlock()

	if rec.ID == 0 {
		all, err := d.store.GetAll(ctx)
		if err != nil {
			return types.Record{}, err
		}
		var maxID int64
		for _, r := range all {
			if r.ID > maxID {
				maxID = r.ID
			}
		}
		rec.ID = maxID + 1
	}

	if err := d.store.Add(ctx, rec); err != nil {
		return types.Record{}, err
	}
	d.log.WithFields(logrus.Fields{"id": rec.ID, "kind": rec.Kind}).Infof("Added %s", rec.Name)
	return rec, nil
}

// Update replaces the record with rec.ID. Unknown ids fail with ErrNotFound.
func (d *Directory) Update(ctx context.Context, rec types.Record) (types.Record, error) {
	if rec.ID == 0 {
		return types.Record{}, &types.ValidationError{Fields: map[string]string{"id": "id is required"}}
	}
	d.applyDefaults(&rec)
	if err := ValidateRecord(rec); err != nil {
		return types.Record{}, err
	}
	if err := d.store.Update(ctx, rec); err != nil {
		return types.Record{}, err
	}
	d.log.WithFields(logrus.Fields{"id": rec.ID, "kind": rec.Kind}).Infof("Updated %s", rec.Name)
	return rec, nil
}

func (d *Directory) Remove(ctx context.Context, id int64) error {
	if err := d.store.Remove(ctx, id); err != nil {
		return err
	}
	d.log.WithField("id", id).Info("Deleted record")
	return nil
}

func (d *Directory) Get(ctx context.Context, id int64) (types.Record, error) {
	return d.store.Get(ctx, id)
}

// GetKind is Get restricted to one collection. A record of the other kind
// is reported as ErrNotFound.
func (d *Directory) GetKind(ctx context.Context, kind types.RecordKind, id int64) (types.Record, error) {
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		return types.Record{}, err
	}
	if kind != "" && rec.Kind != kind {
		return types.Record{}, types.ErrNotFound
	}
	return rec, nil
}

// UpdateKind is Update for a record that must already belong to kind.
func (d *Directory) UpdateKind(ctx context.Context, kind types.RecordKind, rec types.Record) (types.Record, error) {
	if _, err := d.GetKind(ctx, kind, rec.ID); err != nil {
		return types.Record{}, err
	}
	rec.Kind = kind
	return d.Update(ctx, rec)
}

// RemoveKind deletes id only when it belongs to kind.
func (d *Directory) RemoveKind(ctx context.Context, kind types.RecordKind, id int64) error {
	if _, err := d.GetKind(ctx, kind, id); err != nil {
		return err
	}
	return d.Remove(ctx, id)
}

func (d *Directory) GetAll(ctx context.Context) ([]types.Record, error) {
	return d.store.GetAll(ctx)
}

// Search matches term case-insensitively against each record's searchable
// fields. An empty term returns everything in GetAll order. Whitespace in
// term is matched as typed.
func (d *Directory) Search(ctx context.Context, term string) ([]types.Record, error) {
	all, err := d.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(all, term), nil
}

func filterRecords(records []types.Record, term string) []types.Record {
	if term == "" {
		return records
	}
	term = strings.ToLower(term)
	out := make([]types.Record, 0, len(records))
	for _, rec := range records {
		if strings.Contains(rec.SearchText(), term) {
			out = append(out, rec)
		}
	}
	return out
}

// List applies the kind, department, status and search filters of params
// and returns the requested page.
func (d *Directory) List(ctx context.Context, params types.ListParams) ([]types.Record, types.Pagination, error) {
	all, err := d.store.GetAll(ctx)
	if err != nil {
		return nil, types.Pagination{}, err
	}

	filtered := make([]types.Record, 0, len(all))
	for _, rec := range filterRecords(all, params.Search) {
		if params.Kind != "" && rec.Kind != params.Kind {
			continue
		}
		if params.Department != "" && !strings.EqualFold(rec.Department(), params.Department) {
			continue
		}
		if params.Status != "" && !strings.EqualFold(string(rec.Status), params.Status) {
			continue
		}
		filtered = append(filtered, rec)
	}

	items, page := Paginate(filtered, params.Page, params.Limit)
	return items, page, nil
}

func (d *Directory) Stats(ctx context.Context, kind types.RecordKind) (types.Stats, error) {
	all, err := d.store.GetAll(ctx)
	if err != nil {
		return types.Stats{}, err
	}
	stats := types.Stats{
		ByStatus:     map[string]int{},
		ByDepartment: map[string]int{},
	}
	for _, rec := range all {
		if kind != "" && rec.Kind != kind {
			continue
		}
		stats.Total++
		stats.ByStatus[string(rec.Status)]++
		if dept := rec.Department(); dept != "" {
			stats.ByDepartment[dept]++
		}
	}
	return stats, nil
}

// Paginate slices items to the 1-based page, clamping page into range.
func Paginate[T any](items []T, page, limit int) ([]T, types.Pagination) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	total := len(items)
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * limit
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]T, 0, end-start)
	out = append(out, items[start:end]...)

	return out, types.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}
