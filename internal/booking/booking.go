// Package booking manages lab and classroom reservations. Each room holds at
// most one booking at a time.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"csebu.org/internal/auth"
	"csebu.org/internal/ids"
)

type Room string

const (
	RoomClassroom1 Room = "classroom1"
	RoomAPL        Room = "apl"
	RoomANL        Room = "anl"
	RoomIoT        Room = "iot"
	RoomDLD        Room = "dld"
)

var Rooms = []Room{RoomClassroom1, RoomAPL, RoomANL, RoomIoT, RoomDLD}

func (r Room) Valid() bool {
	for _, k := range Rooms {
		if r == k {
			return true
		}
	}
	return false
}

var (
	ErrNotFound     = errors.New("booking: not found")
	ErrConflict     = errors.New("booking: room already booked")
	ErrInvalidInput = errors.New("booking: invalid input")
	ErrForbidden    = errors.New("booking: not allowed")
)

type Booking struct {
	ID          string    `json:"id"`
	RoomKey     Room      `json:"roomKey"`
	TeacherID   string    `json:"teacherId,omitempty"`
	TeacherName string    `json:"teacherName"`
	Session     string    `json:"session"`
	CreatedBy   string    `json:"createdBy"`
	CreatorName string    `json:"createdByName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// View is a booking as seen by a particular caller.
type View struct {
	Booking
	Mine bool `json:"mine"`
}

type CreateInput struct {
	RoomKey     Room   `json:"roomKey"`
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
	Session     string `json:"session"`
}

// Store persists bookings. CreateBooking returns ErrConflict when the room is taken.
type Store interface {
	CreateBooking(ctx context.Context, b *Booking) error
	Bookings(ctx context.Context) ([]Booking, error)
	Booking(ctx context.Context, id string) (Booking, error)
	DeleteBooking(ctx context.Context, id string) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// List returns every booking; viewerID marks the caller's own.
func (s *Service) List(ctx context.Context, viewerID string) ([]View, error) {
	items, err := s.store.Bookings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(items))
	for _, b := range items {
		out = append(out, View{Booking: b, Mine: viewerID != "" && b.CreatedBy == viewerID})
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, by auth.Identity, in CreateInput) (Booking, error) {
	in.TeacherName = strings.TrimSpace(in.TeacherName)
	in.Session = strings.TrimSpace(in.Session)
	if !in.RoomKey.Valid() {
		return Booking{}, fmt.Errorf("%w: unknown room %q", ErrInvalidInput, in.RoomKey)
	}
	if in.TeacherName == "" || in.Session == "" {
		return Booking{}, fmt.Errorf("%w: teacherName and session are required", ErrInvalidInput)
	}
	b := Booking{
		RoomKey:     in.RoomKey,
		TeacherID:   strings.TrimSpace(in.TeacherID),
		TeacherName: in.TeacherName,
		Session:     in.Session,
		CreatedBy:   by.ID,
		CreatorName: by.Name,
	}
	if err := s.store.CreateBooking(ctx, &b); err != nil {
		return Booking{}, err
	}
	return b, nil
}

// Cancel removes a booking when the caller owns it or is an admin.
func (s *Service) Cancel(ctx context.Context, by auth.Identity, id string) error {
	b, err := s.store.Booking(ctx, id)
	if err != nil {
		return err
	}
	if !by.CanActOn(b.CreatedBy, auth.AdminsOnly...) {
		return ErrForbidden
	}
	return s.store.DeleteBooking(ctx, id)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]Booking
	byRoom map[Room]string
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]Booking), byRoom: make(map[Room]string)}
}

func (s *InMemory) CreateBooking(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byRoom[b.RoomKey]; taken {
		return ErrConflict
	}
	if b.ID == "" {
		b.ID = ids.New()
	}
	b.CreatedAt = time.Now().UTC()
	s.byID[b.ID] = *b
	s.byRoom[b.RoomKey] = b.ID
	return nil
}

func (s *InMemory) Bookings(ctx context.Context) ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Booking, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomKey < out[j].RoomKey })
	return out, nil
}

func (s *InMemory) Booking(ctx context.Context, id string) (Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (s *InMemory) DeleteBooking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byRoom, b.RoomKey)
	return nil
}
