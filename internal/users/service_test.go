package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/events"
	"github.com/kuitang/user-notes/internal/guard"
	"github.com/kuitang/user-notes/internal/store"
	"pgregory.net/rapid"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestService(t testing.TB) (*Service, *recordingPublisher, *fixedClock) {
	t.Helper()
	pub := &recordingPublisher{}
	clock := &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store.New(),
		WithPublisher(pub),
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
	)
	return svc, pub, clock
}

func requireCode(t testing.TB, err error, code errs.Code, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := errs.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
	if got := errs.MessageOf(err); got != message {
		t.Fatalf("expected message %q, got %q", message, got)
	}
}

func TestScenario_AnaShopping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, pub, _ := newTestService(t)

	ana, err := svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ana.ID == "" || ana.Notes == nil || len(ana.Notes) != 0 {
		t.Fatalf("expected generated id and empty notes, got %+v", ana)
	}

	added, err := svc.AddNote(ctx, "12345678901", guard.Body{"title": "Shopping", "content": "milk"})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if added.Message != "Shopping was added into Ana's notes" {
		t.Fatalf("unexpected message %q", added.Message)
	}

	if err := svc.DeleteUser(ctx, "12345678901"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := svc.ListUsers(ctx); len(got) != 0 {
		t.Fatalf("expected no users, got %+v", got)
	}

	want := []events.Type{events.UserCreated, events.NoteAdded, events.UserDeleted}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestCreateUser_DuplicateCPF(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, pub, _ := newTestService(t)

	if _, err := svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.CreateUser(ctx, guard.Body{"name": "Other", "cpf": "12345678901"})
	requireCode(t, err, errs.AlreadyExists, errs.MsgUserAlreadyExists)

	if n := len(svc.ListUsers(ctx)); n != 1 {
		t.Fatalf("expected store unchanged, got %d users", n)
	}
	if n := len(pub.types()); n != 1 {
		t.Fatalf("expected no event for failed create, got %d", n)
	}
}

func TestCreateUser_ConflictBeatsValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})

	// name missing, but the CPF guard runs first
	_, err := svc.CreateUser(ctx, guard.Body{"cpf": "12345678901"})
	requireCode(t, err, errs.AlreadyExists, errs.MsgUserAlreadyExists)
}

func TestCreateUser_InvalidBodies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	bodies := []guard.Body{
		nil,
		{},
		{"name": "Ana"},
		{"cpf": "12345678901"},
		{"name": "", "cpf": "12345678901"},
		{"name": "Ana", "cpf": "1234"},
		{"name": "Ana", "cpf": 12345678901.0},
		{"name": 7.0, "cpf": "12345678901"},
		{"name": "Ana", "cpf": nil},
	}
	for _, body := range bodies {
		_, err := svc.CreateUser(ctx, body)
		requireCode(t, err, errs.InvalidArgument, errs.MsgInvalidFields)
	}
	if n := len(svc.ListUsers(ctx)); n != 0 {
		t.Fatalf("expected nothing appended, got %d users", n)
	}
}

func TestCreateUser_IgnoresClientFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	u, err := svc.CreateUser(ctx, guard.Body{
		"name":  "Ana",
		"cpf":   "123.456.789-01",
		"id":    "chosen",
		"notes": []any{map[string]any{"id": "x"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "chosen" || len(u.Notes) != 0 {
		t.Fatalf("client-supplied fields leaked: %+v", u)
	}
}

func TestUpdateUser_Partial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	created, _ := svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})

	u, err := svc.UpdateUser(ctx, "12345678901", guard.Body{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if u.Name != "Ana" || u.CPF != "12345678901" || u.ID != created.ID {
		t.Fatalf("empty update changed user: %+v", u)
	}

	u, err = svc.UpdateUser(ctx, "12345678901", guard.Body{"name": "X"})
	if err != nil {
		t.Fatalf("name update: %v", err)
	}
	if u.Name != "X" || u.CPF != "12345678901" {
		t.Fatalf("unexpected user after name update: %+v", u)
	}

	u, err = svc.UpdateUser(ctx, "12345678901", guard.Body{"cpf": "999.999.999-99"})
	if err != nil {
		t.Fatalf("cpf update: %v", err)
	}
	if u.CPF != "999.999.999-99" {
		t.Fatalf("expected cpf changed, got %+v", u)
	}
	_, err = svc.ListNotes(ctx, "12345678901")
	requireCode(t, err, errs.NotFound, errs.MsgUserNotRegistered)
}

func TestUpdateUser_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Bia", "cpf": "22222222222"})

	_, err := svc.UpdateUser(ctx, "000.000.000-00", guard.Body{"cpf": "33333333333"})
	requireCode(t, err, errs.NotFound, errs.MsgUserNotRegistered)

	_, err = svc.UpdateUser(ctx, "12345678901", guard.Body{"cpf": "22222222222"})
	requireCode(t, err, errs.AlreadyExists, errs.MsgUserAlreadyExists)

	// keeping its own cpf is allowed
	if _, err := svc.UpdateUser(ctx, "12345678901", guard.Body{"cpf": "12345678901", "name": "Ana B"}); err != nil {
		t.Fatalf("same-cpf update: %v", err)
	}

	_, err = svc.UpdateUser(ctx, "12345678901", guard.Body{"cpf": "bad"})
	requireCode(t, err, errs.InvalidArgument, errs.MsgInvalidFields)
	_, err = svc.UpdateUser(ctx, "12345678901", guard.Body{"name": 7})
	requireCode(t, err, errs.InvalidArgument, errs.MsgInvalidFields)

	users := svc.ListUsers(ctx)
	if users[0].Name != "Ana B" || users[1].CPF != "22222222222" {
		t.Fatalf("failed updates mutated state: %+v", users)
	}

	// a present empty name still overwrites
	u, err := svc.UpdateUser(ctx, "12345678901", guard.Body{"name": ""})
	if err != nil {
		t.Fatalf("empty name update: %v", err)
	}
	if u.Name != "" || u.CPF != "12345678901" {
		t.Fatalf("expected emptied name, got %+v", u)
	}
}

func TestUpdateUser_NullIsAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})

	u, err := svc.UpdateUser(ctx, "12345678901", guard.Body{"name": nil, "cpf": nil})
	if err != nil {
		t.Fatalf("null update: %v", err)
	}
	if u.Name != "Ana" || u.CPF != "12345678901" {
		t.Fatalf("null fields should be ignored, got %+v", u)
	}
}

func TestDeleteUser_CascadesNotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})
	_, _ = svc.AddNote(ctx, "12345678901", guard.Body{"title": "a", "content": "b"})

	if err := svc.DeleteUser(ctx, "12345678901"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := svc.ListNotes(ctx, "12345678901")
	requireCode(t, err, errs.NotFound, errs.MsgUserNotRegistered)

	err = svc.DeleteUser(ctx, "12345678901")
	requireCode(t, err, errs.NotFound, errs.MsgUserNotRegistered)
}

func TestNotes_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, pub, clock := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})

	if _, err := svc.AddNote(ctx, "12345678901", guard.Body{"title": "Shopping", "content": "milk", "id": "mine"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	notes, err := svc.ListNotes(ctx, "12345678901")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	n := notes[0]
	if n.ID == "" || n.ID == "mine" || n.CreatedAt.IsZero() || n.UpdatedAt != nil {
		t.Fatalf("unexpected created note: %+v", n)
	}

	clock.Advance(time.Minute)
	updated, err := svc.UpdateNote(ctx, "12345678901", n.ID, guard.Body{"content": "oat milk"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Shopping" || updated.Content != "oat milk" {
		t.Fatalf("partial note update mismatch: %+v", updated)
	}
	if !updated.CreatedAt.Equal(n.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", n.CreatedAt, updated.CreatedAt)
	}
	if updated.UpdatedAt == nil || !updated.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updated_at stamped, got %v", updated.UpdatedAt)
	}

	// an empty update still stamps updated_at
	clock.Advance(time.Minute)
	again, err := svc.UpdateNote(ctx, "12345678901", n.ID, guard.Body{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if !again.UpdatedAt.After(*updated.UpdatedAt) || again.Content != "oat milk" {
		t.Fatalf("unexpected note after empty update: %+v", again)
	}

	if err := svc.DeleteNote(ctx, "12345678901", n.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	notes, _ = svc.ListNotes(ctx, "12345678901")
	if len(notes) != 0 {
		t.Fatalf("expected note removed, got %+v", notes)
	}

	types := pub.types()
	if types[len(types)-1] != events.NoteDeleted {
		t.Fatalf("expected note.deleted last, got %v", types)
	}
}

func TestNotes_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Bia", "cpf": "22222222222"})
	_, _ = svc.AddNote(ctx, "12345678901", guard.Body{"title": "a", "content": "b"})
	notes, _ := svc.ListNotes(ctx, "12345678901")
	noteID := notes[0].ID

	_, err := svc.AddNote(ctx, "00000000000", guard.Body{"title": "a", "content": "b"})
	requireCode(t, err, errs.NotFound, errs.MsgUserNotRegistered)

	_, err = svc.AddNote(ctx, "12345678901", guard.Body{"title": "a"})
	requireCode(t, err, errs.InvalidArgument, errs.MsgInvalidFields)

	_, err = svc.UpdateNote(ctx, "12345678901", "missing", guard.Body{"title": "x"})
	requireCode(t, err, errs.NotFound, errs.MsgNoteNotRegistered)

	_, err = svc.UpdateNote(ctx, "22222222222", noteID, guard.Body{"title": "x"})
	requireCode(t, err, errs.NotFound, errs.MsgNoteNotRegistered)

	_, err = svc.UpdateNote(ctx, "12345678901", noteID, guard.Body{"title": false})
	requireCode(t, err, errs.InvalidArgument, errs.MsgInvalidFields)

	emptied, err := svc.UpdateNote(ctx, "12345678901", noteID, guard.Body{"title": ""})
	if err != nil {
		t.Fatalf("empty title update: %v", err)
	}
	if emptied.Title != "" || emptied.UpdatedAt == nil {
		t.Fatalf("expected emptied title with updated_at, got %+v", emptied)
	}

	// note updates do not look at cpf at all
	if _, err := svc.UpdateNote(ctx, "12345678901", noteID, guard.Body{"cpf": "22222222222"}); err != nil {
		t.Fatalf("note update with cpf field: %v", err)
	}

	err = svc.DeleteNote(ctx, "12345678901", "missing")
	requireCode(t, err, errs.NotFound, errs.MsgNoteNotRegistered)
	err = svc.DeleteNote(ctx, "00000000000", noteID)
	requireCode(t, err, errs.NotFound, errs.MsgUserNotRegistered)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewService(store.New(), WithPublisher(pub))

	if _, err := svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"}); err != nil {
		t.Fatalf("expected create to succeed despite publish failure, got %v", err)
	}
	if n := len(svc.ListUsers(ctx)); n != 1 {
		t.Fatalf("expected user stored, got %d", n)
	}
}

func TestRenderNote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, _ = svc.CreateUser(ctx, guard.Body{"name": "Ana", "cpf": "12345678901"})
	_, _ = svc.AddNote(ctx, "12345678901", guard.Body{
		"title":   "<b>Shopping</b>",
		"content": "# List\n\n- milk\n- [site](https://example.com)\n\n<script>alert(1)</script>",
	})
	notes, _ := svc.ListNotes(ctx, "12345678901")

	page, err := svc.RenderNote(ctx, "12345678901", notes[0].ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(page)
	if strings.Contains(html, "<script>") || strings.Contains(html, "<b>Shopping</b>") {
		t.Fatalf("unsanitised output: %s", html)
	}
	for _, want := range []string{"&lt;b&gt;Shopping&lt;/b&gt;", "<li>milk</li>", `href="https://example.com"`} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in output: %s", want, html)
		}
	}

	_, err = svc.RenderNote(ctx, "12345678901", "missing")
	requireCode(t, err, errs.NotFound, errs.MsgNoteNotRegistered)
}

func TestCreateUser_ConcurrentSameCPF(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(store.New())

	const workers = 24
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateUser(ctx, guard.Body{"name": fmt.Sprint("u", i), "cpf": "12345678901"})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || len(svc.ListUsers(ctx)) != 1 {
		t.Fatalf("expected exactly one create to win, got %d successes", successes)
	}
}

func testCreates_ListInCreationOrder(t *rapid.T) {
	ctx := context.Background()
	svc := NewService(store.New())
	cpfs := rapid.SliceOfNDistinct(rapid.StringMatching(`\d{11}`), 0, 20, rapid.ID[string]).Draw(t, "cpfs")

	for i, cpf := range cpfs {
		if _, err := svc.CreateUser(ctx, guard.Body{"name": fmt.Sprint("user", i), "cpf": cpf}); err != nil {
			t.Fatalf("create %q: %v", cpf, err)
		}
	}

	listed := svc.ListUsers(ctx)
	if len(listed) != len(cpfs) {
		t.Fatalf("expected %d users, got %d", len(cpfs), len(listed))
	}
	for i, cpf := range cpfs {
		if listed[i].CPF != cpf {
			t.Fatalf("position %d: got %q want %q", i, listed[i].CPF, cpf)
		}
	}
}

func TestCreates_ListInCreationOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCreates_ListInCreationOrder)
}

func testOperations_CPFStaysUnique(t *rapid.T) {
	ctx := context.Background()
	svc := NewService(store.New())
	pool := []string{"11111111111", "22222222222", "333.333.333-33", "44444444444"}

	steps := rapid.IntRange(1, 40).Draw(t, "steps")
	for i := 0; i < steps; i++ {
		cpf := rapid.SampledFrom(pool).Draw(t, "cpf")
		switch rapid.IntRange(0, 2).Draw(t, "op") {
		case 0:
			_, _ = svc.CreateUser(ctx, guard.Body{"name": "n", "cpf": cpf})
		case 1:
			target := rapid.SampledFrom(pool).Draw(t, "target")
			_, _ = svc.UpdateUser(ctx, cpf, guard.Body{"cpf": target})
		case 2:
			_ = svc.DeleteUser(ctx, cpf)
		}

		seen := map[string]bool{}
		for _, u := range svc.ListUsers(ctx) {
			if seen[u.CPF] {
				t.Fatalf("duplicate cpf %q after step %d", u.CPF, i)
			}
			seen[u.CPF] = true
		}
	}
}

func TestOperations_CPFStaysUnique(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testOperations_CPFStaysUnique)
}
