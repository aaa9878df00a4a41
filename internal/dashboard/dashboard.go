// Package dashboard holds the attendance dashboard state: the selected date,
// the member rows with their status, and the error banner.
package dashboard

import (
	"context"
	"sort"
	"strings"
	"sync"

	"gracelog/internal/attendance"
	"gracelog/internal/member"
)

// Backend is the slice of the API the dashboard drives. *client.Client implements it.
type Backend interface {
	ListMembers(ctx context.Context) ([]member.Member, error)
	AddMember(ctx context.Context, name, email string) (member.Member, error)
	DeleteMember(ctx context.Context, id string) error
	Attendance(ctx context.Context, date attendance.Date) (map[string]attendance.Status, error)
	ToggleAttendance(ctx context.Context, memberID string, date attendance.Date) (attendance.Record, error)
}

// Row is one member line with its status on the selected date.
type Row struct {
	Member member.Member
	Status attendance.Status
}

// Dashboard is safe for concurrent use.
type Dashboard struct {
	backend Backend

	mu     sync.Mutex
	date   attendance.Date
	rows   []Row
	banner string
}

// New creates a dashboard showing date; a zero date means today.
func New(backend Backend, date attendance.Date) *Dashboard {
	if date.IsZero() {
		date = attendance.Today()
	}
	return &Dashboard{backend: backend, date: date}
}

func (d *Dashboard) Date() attendance.Date {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.date
}

// Rows returns a copy of the rows, newest member first.
func (d *Dashboard) Rows() []Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Row(nil), d.rows...)
}

// Banner is the last error message, or "" after a successful action.
func (d *Dashboard) Banner() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.banner
}

// Load fetches members and their status for the selected date.
func (d *Dashboard) Load(ctx context.Context) error {
	return d.refresh(ctx, d.Date())
}

// SelectDate switches the date and reloads. On failure the previous date stays selected.
func (d *Dashboard) SelectDate(ctx context.Context, date attendance.Date) error {
	return d.refresh(ctx, date)
}

// AddMember registers a member. Blank input is ignored without calling the backend.
func (d *Dashboard) AddMember(ctx context.Context, name, email string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" {
		return nil
	}
	if _, err := d.backend.AddMember(ctx, name, email); err != nil {
		return d.fail(err)
	}
	return d.Load(ctx)
}

// Toggle flips memberID's presence on the selected date.
func (d *Dashboard) Toggle(ctx context.Context, memberID string) error {
	if _, err := d.backend.ToggleAttendance(ctx, memberID, d.Date()); err != nil {
		return d.fail(err)
	}
	return d.Load(ctx)
}

func (d *Dashboard) DeleteMember(ctx context.Context, memberID string) error {
	if err := d.backend.DeleteMember(ctx, memberID); err != nil {
		return d.fail(err)
	}
	return d.Load(ctx)
}

// refresh replaces date and rows only when both fetches succeed.
func (d *Dashboard) refresh(ctx context.Context, date attendance.Date) error {
	members, err := d.backend.ListMembers(ctx)
	if err != nil {
		return d.fail(err)
	}
	statuses, err := d.backend.Attendance(ctx, date)
	if err != nil {
		return d.fail(err)
	}

	rows := make([]Row, 0, len(members))
	for _, m := range members {
		st, ok := statuses[m.ID]
		if !ok {
			st = attendance.StatusUnknown
		}
		rows = append(rows, Row{Member: m, Status: st})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Member.CreatedAt.After(rows[j].Member.CreatedAt)
	})

	d.mu.Lock()
	d.date = date
	d.rows = rows
	d.banner = ""
	d.mu.Unlock()
	return nil
}

func (d *Dashboard) fail(err error) error {
	d.mu.Lock()
	d.banner = err.Error()
	d.mu.Unlock()
	return err
}
