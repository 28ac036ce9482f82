// Package homarrtest provides an in-memory Homarr tRPC server for tests.
package homarrtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"boardsync/pkg/homarr"
)

const sessionCookie = "authjs.session-token"

// Server fakes the subset of the Homarr API used by boardsync.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	requireAuth bool
	steps       []string
	step        int
	holdSteps   bool
	users       map[string]string
	sessions    map[string]string
	apiKeys     map[string]bool
	boards      []*homarr.Board
	writable    map[string]bool
	apps        []homarr.RemoteApp
	settings    *homarr.Settings
	homeBoard   string
	colorScheme string
	calls       map[string]int
	failures    map[string]int
	rejectSaves map[string]bool
	nextID      int
}

// New starts a server with onboarding already finished and registers its
// shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		users:    make(map[string]string),
		sessions: make(map[string]string),
		apiKeys:  make(map[string]bool),
		writable: make(map[string]bool),
		calls:    make(map[string]int),
		failures: make(map[string]int),

		rejectSaves: make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// RequireAuth makes every non-onboarding procedure demand a session or API key.
func (s *Server) RequireAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = true
}

// SetOnboarding sets the remaining onboarding steps. "finish" is reported
// once they are exhausted.
func (s *Server) SetOnboarding(steps ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append([]string(nil), steps...)
	s.step = 0
}

// HoldOnboarding keeps the current step from ever advancing.
func (s *Server) HoldOnboarding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdSteps = true
}

// AddUser registers an account that can log in.
func (s *Server) AddUser(name, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[name] = password
}

// AddAPIKey registers a key accepted as bearer credential.
func (s *Server) AddAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = true
}

// AddBoard creates an empty board with one section and one layout.
func (s *Server) AddBoard(name string, columns int, writable bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBoardLocked(name, columns, writable)
}

func (s *Server) addBoardLocked(name string, columns int, writable bool) string {
	id := s.newIDLocked("board")
	s.boards = append(s.boards, &homarr.Board{
		ID:       id,
		Name:     name,
		Sections: []homarr.Section{homarr.NewSection(id+"-section", "empty")},
		Layouts:  []homarr.Layout{{ID: id + "-layout", Name: "Base", ColumnCount: columns, Breakpoint: 0}},
		Items:    []homarr.BoardItem{},
	})
	s.writable[id] = writable
	return id
}

// Board returns a copy of the board with the given name.
func (s *Server) Board(name string) (homarr.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.boardByNameLocked(name)
	if b == nil {
		return homarr.Board{}, false
	}
	cp := *b
	cp.Items = append([]homarr.BoardItem(nil), b.Items...)
	return cp, true
}

// AddItem appends an item to the named board.
func (s *Server) AddItem(boardName string, item homarr.BoardItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.boardByNameLocked(boardName); b != nil {
		b.Items = append(b.Items, item)
	}
}

// RemoveAppItems deletes every item linked to appID from the named board,
// the way a user deleting a tile would.
func (s *Server) RemoveAppItems(boardName, appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.boardByNameLocked(boardName)
	if b == nil {
		return
	}
	kept := b.Items[:0]
	for _, item := range b.Items {
		if item.AppID() != appID {
			kept = append(kept, item)
		}
	}
	b.Items = kept
}

// DeleteApp removes the app record and every item linked to it, the way a
// user deleting the app from the management page would.
func (s *Server) DeleteApp(appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = slices.DeleteFunc(s.apps, func(a homarr.RemoteApp) bool { return a.ID == appID })
	for _, b := range s.boards {
		b.Items = slices.DeleteFunc(b.Items, func(item homarr.BoardItem) bool { return item.AppID() == appID })
	}
}

// RejectSaves makes board.saveBoard answer 400 for the named board only.
func (s *Server) RejectSaves(boardName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.boardByNameLocked(boardName); b != nil {
		s.rejectSaves[b.ID] = true
	}
}

// AddApp stores an app record and returns its id.
func (s *Server) AddApp(app homarr.RemoteApp) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.ID == "" {
		app.ID = s.newIDLocked("app")
	}
	s.apps = append(s.apps, app)
	return app.ID
}

// Apps returns a copy of the stored app records.
func (s *Server) Apps() []homarr.RemoteApp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]homarr.RemoteApp(nil), s.apps...)
}

// Fail makes proc answer with status until cleared with status 0.
func (s *Server) Fail(proc string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, proc)
		return
	}
	s.failures[proc] = status
}

// CallCount returns how many times proc was invoked.
func (s *Server) CallCount(proc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[proc]
}

// Settings returns the settings stored by serverSettings.initSettings.
func (s *Server) Settings() (homarr.Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return homarr.Settings{}, false
	}
	return *s.settings, true
}

// HomeBoard returns the id set by board.setHomeBoard.
func (s *Server) HomeBoard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeBoard
}

// ColorScheme returns the scheme set by user.changeColorScheme.
func (s *Server) ColorScheme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colorScheme
}

// HasUser reports whether an account exists.
func (s *Server) HasUser(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[name]
	return ok
}

func (s *Server) newIDLocked(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *Server) boardByNameLocked(name string) *homarr.Board {
	for _, b := range s.boards {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (s *Server) boardByIDLocked(id string) *homarr.Board {
	for _, b := range s.boards {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/csrf":
		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": "csrf-token"})
		return
	case "/api/auth/callback/credentials":
		s.handleLogin(w, r)
		return
	}

	proc, ok := strings.CutPrefix(r.URL.Path, "/api/trpc/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	input, err := readInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[proc]++
	if status, failing := s.failures[proc]; failing {
		writeError(w, status, codeFor(status), "injected failure")
		return
	}

	if !strings.HasPrefix(proc, "onboard.") && proc != "user.initUser" && proc != "serverSettings.initSettings" {
		if !s.authorizedLocked(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
			return
		}
	}

	handler, ok := s.procs()[proc]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no procedure "+proc)
		return
	}
	handler(w, input)
}

func (s *Server) authorizedLocked(r *http.Request) bool {
	if !s.requireAuth {
		return true
	}
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return s.apiKeys[key]
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		_, ok := s.sessions[c.Value]
		return ok
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["auth.login"]++
	name := r.PostForm.Get("name")
	password, ok := s.users[name]
	if !ok || password != r.PostForm.Get("password") || r.PostForm.Get("csrfToken") == "" {
		w.Header().Set("Location", "/auth/login?error=CredentialsSignin")
		w.WriteHeader(http.StatusFound)
		return
	}

	token := s.newIDLocked("session")
	s.sessions[token] = name
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/"})
	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusFound)
}

type procHandler func(w http.ResponseWriter, input json.RawMessage)

func (s *Server) procs() map[string]procHandler {
	return map[string]procHandler{
		"onboard.currentStep":         s.currentStep,
		"onboard.nextStep":            s.nextStep,
		"user.initUser":               s.initUser,
		"serverSettings.initSettings": s.initSettings,
		"apiKeys.create":              s.createAPIKey,
		"board.getBoardByName":        s.getBoardByName,
		"board.getAllBoards":          s.getAllBoards,
		"board.createBoard":           s.createBoard,
		"board.saveBoard":             s.saveBoard,
		"board.setHomeBoard":          s.setHomeBoard,
		"user.changeColorScheme":      s.changeColorScheme,
		"app.all":                     s.allApps,
		"app.create":                  s.createApp,
		"app.update":                  s.updateApp,
	}
}

func (s *Server) currentStepLocked() string {
	if s.step < len(s.steps) {
		return s.steps[s.step]
	}
	return "finish"
}

func (s *Server) advanceLocked() {
	if !s.holdSteps && s.step < len(s.steps) {
		s.step++
	}
}

func (s *Server) currentStep(w http.ResponseWriter, _ json.RawMessage) {
	previous := ""
	if s.step > 0 && s.step <= len(s.steps) {
		previous = s.steps[s.step-1]
	}
	writeResult(w, map[string]any{"current": s.currentStepLocked(), "previous": previous})
}

func (s *Server) nextStep(w http.ResponseWriter, _ json.RawMessage) {
	s.advanceLocked()
	writeResult(w, map[string]any{})
}

func (s *Server) initUser(w http.ResponseWriter, input json.RawMessage) {
	var in struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := json.Unmarshal(input, &in); err != nil || in.Username == "" || in.Password != in.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user")
		return
	}
	if s.currentStepLocked() != "user" {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "onboarding is not at the user step")
		return
	}
	s.users[in.Username] = in.Password
	s.advanceLocked()
	writeResult(w, map[string]any{})
}

func (s *Server) initSettings(w http.ResponseWriter, input json.RawMessage) {
	var in homarr.Settings
	if err := json.Unmarshal(input, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.settings = &in
	s.advanceLocked()
	writeResult(w, map[string]any{})
}

func (s *Server) createAPIKey(w http.ResponseWriter, _ json.RawMessage) {
	key := s.newIDLocked("key") + ".secret"
	s.apiKeys[key] = true
	writeResult(w, map[string]string{"apiKey": key})
}

func (s *Server) getBoardByName(w http.ResponseWriter, input json.RawMessage) {
	var in struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(input, &in)
	b := s.boardByNameLocked(in.Name)
	if b == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Board not found")
		return
	}
	writeResult(w, b)
}

func (s *Server) getAllBoards(w http.ResponseWriter, _ json.RawMessage) {
	out := make([]homarr.BoardSummary, 0, len(s.boards))
	for _, b := range s.boards {
		perm := "view"
		if s.writable[b.ID] {
			perm = "modify"
		}
		out = append(out, homarr.BoardSummary{
			ID:              b.ID,
			Name:            b.Name,
			UserPermissions: []homarr.Permission{{Permission: perm}},
		})
	}
	writeResult(w, out)
}

func (s *Server) createBoard(w http.ResponseWriter, input json.RawMessage) {
	var in homarr.BoardSpec
	if err := json.Unmarshal(input, &in); err != nil || in.Name == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid board")
		return
	}
	if s.boardByNameLocked(in.Name) != nil {
		writeError(w, http.StatusConflict, "CONFLICT", "board exists")
		return
	}
	columns := in.ColumnCount
	if columns <= 0 {
		columns = 10
	}
	writeResult(w, map[string]string{"boardId": s.addBoardLocked(in.Name, columns, true)})
}

func (s *Server) saveBoard(w http.ResponseWriter, input json.RawMessage) {
	var in struct {
		ID       string             `json:"id"`
		Sections []homarr.Section   `json:"sections"`
		Items    []homarr.BoardItem `json:"items"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	b := s.boardByIDLocked(in.ID)
	if b == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Board not found")
		return
	}
	if !s.writable[b.ID] {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "board is read only")
		return
	}
	if s.rejectSaves[b.ID] {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid layout")
		return
	}
	b.Sections = in.Sections
	b.Items = in.Items
	writeResult(w, map[string]any{})
}

func (s *Server) setHomeBoard(w http.ResponseWriter, input json.RawMessage) {
	var in struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(input, &in)
	if s.boardByIDLocked(in.ID) == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Board not found")
		return
	}
	s.homeBoard = in.ID
	writeResult(w, map[string]any{})
}

func (s *Server) changeColorScheme(w http.ResponseWriter, input json.RawMessage) {
	var in struct {
		ColorScheme string `json:"colorScheme"`
	}
	_ = json.Unmarshal(input, &in)
	s.colorScheme = in.ColorScheme
	writeResult(w, map[string]any{})
}

func (s *Server) allApps(w http.ResponseWriter, _ json.RawMessage) {
	out := append([]homarr.RemoteApp{}, s.apps...)
	writeResult(w, out)
}

func (s *Server) createApp(w http.ResponseWriter, input json.RawMessage) {
	var in homarr.RemoteApp
	if err := json.Unmarshal(input, &in); err != nil || in.Name == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid app")
		return
	}
	in.ID = s.newIDLocked("app")
	s.apps = append(s.apps, in)
	writeResult(w, map[string]string{"appId": in.ID, "id": in.ID})
}

func (s *Server) updateApp(w http.ResponseWriter, input json.RawMessage) {
	var in homarr.RemoteApp
	if err := json.Unmarshal(input, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	for i := range s.apps {
		if s.apps[i].ID == in.ID {
			s.apps[i] = in
			writeResult(w, map[string]any{})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "App not found")
}

func readInput(r *http.Request) (json.RawMessage, error) {
	var raw []byte
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("input")
		if q == "" {
			return nil, nil
		}
		raw = []byte(q)
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw = body
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var env struct {
		JSON json.RawMessage `json:"json"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return env.JSON, nil
}

func writeResult(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{"data": map[string]any{"json": v}},
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"json": map[string]any{
			"message": message,
			"code":    -32000,
			"data":    map[string]any{"code": code, "httpStatus": status},
		}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func codeFor(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case status == http.StatusForbidden:
		return "FORBIDDEN"
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status >= 500:
		return "INTERNAL_SERVER_ERROR"
	default:
		return "BAD_REQUEST"
	}
}
