package diarysync

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/agentworkforce/diarysync/internal/diary"
)

type recordedWrite struct {
	Section diary.Section
	Date    string
	Body    map[string]any
}

// fakeClient is an in-memory persistence backend that merges writes the
// same way the real server does.
type fakeClient struct {
	mu        sync.Mutex
	docs      map[string][]byte
	writes    []recordedWrite
	fetches   map[diary.Section]int
	saveErr   error
	fetchErr  error
	onSave    func(section diary.Section, date string)
	onFetch   func(section diary.Section, date string)
	overrides map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		docs:      map[string][]byte{},
		fetches:   map[diary.Section]int{},
		overrides: map[string]string{},
	}
}

func docKey(section diary.Section, date string) string {
	return string(section) + "/" + date
}

func (c *fakeClient) Fetch(_ context.Context, section diary.Section, date string) (json.RawMessage, error) {
	if c.onFetch != nil {
		c.onFetch(section, date)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[section]++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if raw, ok := c.overrides[docKey(section, date)]; ok {
		return json.RawMessage(raw), nil
	}
	doc, ok := c.docs[docKey(section, date)]
	if !ok {
		return nil, &HTTPError{StatusCode: http.StatusNotFound, Code: "not_found", Message: "document not found"}
	}
	return json.RawMessage(doc), nil
}

func (c *fakeClient) Save(_ context.Context, section diary.Section, date string, body map[string]any) (json.RawMessage, error) {
	if c.onSave != nil {
		c.onSave(section, date)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, recordedWrite{Section: section, Date: date, Body: body})
	if c.saveErr != nil {
		return nil, c.saveErr
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	merged, err := diary.MergeWrite(section, date, c.docs[docKey(section, date)], raw)
	if err != nil {
		return nil, err
	}
	c.docs[docKey(section, date)] = merged
	return merged, nil
}

func (c *fakeClient) seed(section diary.Section, date, doc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[docKey(section, date)] = []byte(doc)
}

func (c *fakeClient) setSaveErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveErr = err
}

func (c *fakeClient) setFetchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

func (c *fakeClient) recorded() []recordedWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedWrite(nil), c.writes...)
}

func (c *fakeClient) fetchCount(section diary.Section) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[section]
}
