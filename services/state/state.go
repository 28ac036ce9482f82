// Package state persists what the reconciler has learned between runs: the
// dashboard credential, per-board removals, synced apps and the last sync.
package state

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

const (
	// SchemaVersion is written into every saved document.
	SchemaVersion = "2"

	// AllBoards is the removal key that applies to every board. Removals
	// migrated from version 1 documents land here.
	AllBoards = "*"
)

// URLSet is a set of app URLs. It is stored as a sorted JSON array.
type URLSet map[string]struct{}

func (s URLSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(slices.Sorted(maps.Keys(s)))
}

func (s *URLSet) UnmarshalJSON(data []byte) error {
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return err
	}
	set := make(URLSet, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	*s = set
	return nil
}

// AppRecord remembers an app the reconciler synced.
type AppRecord struct {
	Name        string    `json:"name"`
	ContainerID string    `json:"container_id"`
	AddedAt     time.Time `json:"added_at"`
	Boards      []string  `json:"boards,omitempty"`
}

// State is the in-memory reconciler state. It is not safe for concurrent use.
type State struct {
	Version            string
	FirstBootCompleted bool
	APIKey             string
	Removed            map[string]URLSet
	DiscoveredApps     map[string]AppRecord
	LastSync           *time.Time
}

// New returns an empty state.
func New() *State {
	return &State{
		Version:        SchemaVersion,
		Removed:        make(map[string]URLSet),
		DiscoveredApps: make(map[string]AppRecord),
	}
}

// MarkRemoved records that the user removed url from boardID.
func (s *State) MarkRemoved(boardID, url string) {
	set, ok := s.Removed[boardID]
	if !ok {
		set = make(URLSet)
		s.Removed[boardID] = set
	}
	set[url] = struct{}{}
}

// Unremove forgets a removal. An empty boardID clears url from every board.
func (s *State) Unremove(boardID, url string) {
	for id, set := range s.Removed {
		if boardID != "" && id != boardID {
			continue
		}
		delete(set, url)
		if len(set) == 0 {
			delete(s.Removed, id)
		}
	}
}

// ClearRemoved drops every removal of boardID, or of all boards when boardID is empty.
func (s *State) ClearRemoved(boardID string) {
	if boardID == "" {
		clear(s.Removed)
		return
	}
	delete(s.Removed, boardID)
}

// IsRemoved reports whether url must not be placed on boardID.
func (s *State) IsRemoved(boardID, url string) bool {
	if _, ok := s.Removed[AllBoards][url]; ok {
		return true
	}
	_, ok := s.Removed[boardID][url]
	return ok
}

// RecordApp refreshes the record of url. The first AddedAt is kept.
func (s *State) RecordApp(url, name, containerID string, now time.Time) {
	rec, ok := s.DiscoveredApps[url]
	if !ok {
		rec.AddedAt = now.UTC()
	}
	rec.Name = name
	rec.ContainerID = containerID
	s.DiscoveredApps[url] = rec
}

// RecordPlacement remembers that url was placed on boardID.
func (s *State) RecordPlacement(url, boardID string) {
	rec := s.DiscoveredApps[url]
	if slices.Contains(rec.Boards, boardID) {
		return
	}
	rec.Boards = append(rec.Boards, boardID)
	slices.Sort(rec.Boards)
	s.DiscoveredApps[url] = rec
}

// WasPlaced reports whether url was placed on boardID in an earlier cycle.
func (s *State) WasPlaced(url, boardID string) bool {
	return slices.Contains(s.DiscoveredApps[url].Boards, boardID)
}

// ForgetPlacement drops boardID from the placements of url.
func (s *State) ForgetPlacement(url, boardID string) {
	rec, ok := s.DiscoveredApps[url]
	if !ok {
		return
	}
	rec.Boards = slices.DeleteFunc(rec.Boards, func(id string) bool { return id == boardID })
	s.DiscoveredApps[url] = rec
}

// Touch sets the last sync time.
func (s *State) Touch(now time.Time) {
	t := now.UTC()
	s.LastSync = &t
}
