package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"bitfinder/internal/domain"
)

type fakeStore struct {
	state   domain.PersistedState
	loadErr error
	saveErr error
	saves   int
	loads   int
}

func (f *fakeStore) Load(context.Context) (domain.PersistedState, error) {
	f.loads++
	if f.loadErr != nil {
		return domain.PersistedState{}, f.loadErr
	}
	return f.state, nil
}

func (f *fakeStore) Save(_ context.Context, state domain.PersistedState) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.state = state
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleState() domain.PersistedState {
	state := domain.NewPersistedState()
	state.Torrents["aaa"] = domain.PersistedRecord{MagnetURI: "magnet:?xt=urn:btih:aaa"}
	return state
}

func TestSaveWritesBoth(t *testing.T) {
	primary, secondary := &fakeStore{}, &fakeStore{}
	s := New(primary, secondary, quiet())

	if err := s.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if primary.saves != 1 || secondary.saves != 1 {
		t.Fatalf("expected one save each, got primary=%d secondary=%d", primary.saves, secondary.saves)
	}
	if len(secondary.state.Torrents) != 1 {
		t.Fatalf("mirror did not receive state")
	}
}

func TestSaveIgnoresMirrorFailure(t *testing.T) {
	primary := &fakeStore{}
	secondary := &fakeStore{saveErr: errors.New("mongo down")}
	s := New(primary, secondary, quiet())

	if err := s.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("mirror failure should not surface: %v", err)
	}
	if primary.saves != 1 {
		t.Fatalf("primary not saved")
	}
}

func TestSavePrimaryFailureSkipsMirror(t *testing.T) {
	primary := &fakeStore{saveErr: errors.New("disk full")}
	secondary := &fakeStore{}
	s := New(primary, secondary, quiet())

	if err := s.Save(context.Background(), sampleState()); err == nil {
		t.Fatal("expected primary error")
	}
	if secondary.saves != 0 {
		t.Fatalf("mirror should not be written after primary failure")
	}
}

func TestLoadPrefersPrimary(t *testing.T) {
	primary := &fakeStore{state: sampleState()}
	secondary := &fakeStore{state: domain.NewPersistedState()}
	s := New(primary, secondary, quiet())

	state, err := s.Load(context.Background())
	if err != nil || len(state.Torrents) != 1 {
		t.Fatalf("unexpected load result %+v err=%v", state, err)
	}
	if secondary.loads != 0 {
		t.Fatalf("mirror should not be read when primary is healthy")
	}
}

func TestLoadFallsBackToMirror(t *testing.T) {
	primary := &fakeStore{loadErr: errors.New("corrupt")}
	secondary := &fakeStore{state: sampleState()}
	s := New(primary, secondary, quiet())

	state, err := s.Load(context.Background())
	if err != nil || len(state.Torrents) != 1 {
		t.Fatalf("expected mirror state, got %+v err=%v", state, err)
	}
}

func TestLoadBothFailReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("corrupt")
	s := New(&fakeStore{loadErr: primaryErr}, &fakeStore{loadErr: errors.New("down")}, quiet())

	if _, err := s.Load(context.Background()); !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
}

func TestNilSecondary(t *testing.T) {
	primary := &fakeStore{}
	s := New(primary, nil, nil)

	if err := s.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}
