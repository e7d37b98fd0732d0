// Package memory holds a map-backed Handler. It serves STORAGE_TYPE=memory
// deployments and the protocol tests, which count mutations to prove
// failed preconditions leave the store untouched.
package memory

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/carddav/filter"
)

// Store is the shared state behind every memory Handler.
type Store struct {
	mu         sync.RWMutex
	cols       map[string]*backend.Collection          // path -> collection
	cards      map[string]map[string]*backend.Card     // col path -> name -> card
	files      map[string]map[string]*backend.Resource // col path -> name -> resource
	principals map[string]*backend.Principal           // user id -> principal
	grants     map[string]map[string]acl.Effective     // user id -> col path -> privileges

	maxResults int
	mutations  int64
}

func NewStore(maxResults int) *Store {
	return &Store{
		cols:       make(map[string]*backend.Collection),
		cards:      make(map[string]map[string]*backend.Card),
		files:      make(map[string]map[string]*backend.Resource),
		principals: make(map[string]*backend.Principal),
		grants:     make(map[string]map[string]acl.Effective),
		maxResults: maxResults,
	}
}

// MutationCount reports how many writes the store has accepted.
func (s *Store) MutationCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutations
}

// AddPrincipal registers a principal for lookup under /principals/.
func (s *Store) AddPrincipal(p *backend.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.UserID] = p
}

// Grant gives user the listed privileges on the collection at path.
func (s *Store) Grant(user, path string, e acl.Effective) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.grants[user]
	if m == nil {
		m = make(map[string]acl.Effective)
		s.grants[user] = m
	}
	m[path] = e
}

// SeedCollection inserts a collection without access checks.
func (s *Store) SeedCollection(col *backend.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col.Lastmod == "" {
		col.Lastmod = stamp()
	}
	if col.Created == "" {
		col.Created = col.Lastmod
	}
	s.cols[col.Path] = col
}

// SeedCard inserts a card without access checks.
func (s *Store) SeedCard(colPath string, card *backend.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card.Lastmod == "" {
		card.Lastmod = stamp()
	}
	card.ColPath = colPath
	m := s.cards[colPath]
	if m == nil {
		m = make(map[string]*backend.Card)
		s.cards[colPath] = m
	}
	m[card.Name] = card
}

// SeedResource inserts an opaque resource without access checks.
func (s *Store) SeedResource(colPath string, res *backend.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Lastmod == "" {
		res.Lastmod = stamp()
	}
	res.ColPath = colPath
	res.ContentLength = int64(len(res.Content))
	m := s.files[colPath]
	if m == nil {
		m = make(map[string]*backend.Resource)
		s.files[colPath] = m
	}
	m[res.Name] = res
}

func stamp() string { return backend.Stamp() }

// Handler is a per-request view onto a Store.
type Handler struct {
	s       *Store
	prefix  string
	account string
	open    bool
}

func NewHandler(s *Store, prefix string) *Handler {
	return &Handler{s: s, prefix: prefix}
}

func (h *Handler) Open(ctx context.Context, account string) error {
	if h.open {
		return errors.New("handler already open")
	}
	h.account = account
	h.open = true
	return nil
}

func (h *Handler) Close() error {
	h.account = ""
	h.open = false
	return nil
}

func (h *Handler) IsPrincipal(ctx context.Context, path string) (bool, error) {
	return strings.HasPrefix(path, "/principals/"), nil
}

func (h *Handler) Principal(ctx context.Context, path string) (*backend.Principal, error) {
	id := strings.Trim(strings.TrimPrefix(path, "/principals/users"), "/")
	id = strings.Trim(strings.TrimPrefix(id, "users"), "/")
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	p, ok := h.s.principals[id]
	if !ok {
		return nil, errors.New("principal not found")
	}
	return p, nil
}

func (h *Handler) Collection(ctx context.Context, path string) (*backend.Collection, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return h.chain(path), nil
}

// chain resolves a collection and links its parents; callers hold s.mu.
func (h *Handler) chain(path string) *backend.Collection {
	col, ok := h.s.cols[path]
	if !ok {
		return nil
	}
	c := *col
	if c.ParentPath != "" {
		c.Parent = h.chain(c.ParentPath)
	}
	return &c
}

func (h *Handler) Collections(ctx context.Context, parent *backend.Collection) (backend.CollectionsResult, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []*backend.Collection
	for _, c := range h.s.cols {
		if c.ParentPath == parent.Path {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return backend.CollectionsResult{Collections: out}, nil
}

func (h *Handler) MakeCollection(ctx context.Context, col *backend.Collection) (int, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if _, exists := h.s.cols[col.Path]; exists {
		return http.StatusMethodNotAllowed, nil
	}
	parent, ok := h.s.cols[col.ParentPath]
	if !ok {
		return http.StatusConflict, nil
	}
	if parent.AddressBook {
		return http.StatusForbidden, nil
	}
	c := *col
	c.Lastmod = stamp()
	c.Created = c.Lastmod
	if c.Owner == "" {
		c.Owner = h.account
	}
	h.s.cols[c.Path] = &c
	h.s.mutations++
	return http.StatusCreated, nil
}

func (h *Handler) DeleteCollection(ctx context.Context, col *backend.Collection) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if _, ok := h.s.cols[col.Path]; !ok {
		return errors.New("collection not found")
	}
	for p := range h.s.cols {
		if p != col.Path && strings.HasPrefix(p, col.Path) {
			delete(h.s.cols, p)
			delete(h.s.cards, p)
			delete(h.s.files, p)
		}
	}
	delete(h.s.cols, col.Path)
	delete(h.s.cards, col.Path)
	delete(h.s.files, col.Path)
	h.s.mutations++
	return nil
}

func (h *Handler) CopyCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.copyCollectionLocked(from.Path, destPath, overwrite)
}

func (h *Handler) MoveCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.copyCollectionLocked(from.Path, destPath, overwrite); err != nil {
		return err
	}
	delete(h.s.cols, from.Path)
	delete(h.s.cards, from.Path)
	delete(h.s.files, from.Path)
	return nil
}

func (h *Handler) copyCollectionLocked(fromPath, destPath string, overwrite bool) error {
	src, ok := h.s.cols[fromPath]
	if !ok {
		return errors.New("collection not found")
	}
	if _, exists := h.s.cols[destPath]; exists && !overwrite {
		return backend.ErrExists
	}
	dst := *src
	dst.Path = destPath
	dst.ParentPath = parentOf(destPath)
	dst.Name = leafOf(destPath)
	dst.Lastmod = stamp()
	h.s.cols[destPath] = &dst
	if m := h.s.cards[fromPath]; m != nil {
		nm := make(map[string]*backend.Card, len(m))
		for k, v := range m {
			c := *v
			c.ColPath = destPath
			nm[k] = &c
		}
		h.s.cards[destPath] = nm
	}
	if m := h.s.files[fromPath]; m != nil {
		nm := make(map[string]*backend.Resource, len(m))
		for k, v := range m {
			r := *v
			r.ColPath = destPath
			nm[k] = &r
		}
		h.s.files[destPath] = nm
	}
	h.s.mutations++
	return nil
}

func (h *Handler) Card(ctx context.Context, col *backend.Collection, name string) (*backend.Card, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	c, ok := h.s.cards[col.Path][name]
	if !ok {
		return nil, nil
	}
	cc := *c
	return &cc, nil
}

func (h *Handler) Cards(ctx context.Context, col *backend.Collection, f *filter.Filter, limits backend.Limits) (backend.CardsResult, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	names := make([]string, 0, len(h.s.cards[col.Path]))
	for n := range h.s.cards[col.Path] {
		names = append(names, n)
	}
	sort.Strings(names)

	var res backend.CardsResult
	for _, n := range names {
		c := h.s.cards[col.Path][n]
		if !f.Matches(c.Card) {
			continue
		}
		if limits.Limit != nil && len(res.Cards) >= *limits.Limit {
			res.OverLimit = true
			break
		}
		if h.s.maxResults > 0 && len(res.Cards) >= h.s.maxResults {
			res.Truncated = true
			break
		}
		cc := *c
		res.Cards = append(res.Cards, &cc)
	}
	return res, nil
}

func (h *Handler) AddCard(ctx context.Context, col *backend.Collection, card *backend.Card) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	m := h.s.cards[col.Path]
	if m == nil {
		m = make(map[string]*backend.Card)
		h.s.cards[col.Path] = m
	}
	if _, exists := m[card.Name]; exists {
		return backend.ErrExists
	}
	c := *card
	c.ColPath = col.Path
	c.Lastmod = stamp()
	m[c.Name] = &c
	card.Lastmod = c.Lastmod
	h.s.mutations++
	return nil
}

func (h *Handler) UpdateCard(ctx context.Context, col *backend.Collection, card *backend.Card) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	m := h.s.cards[col.Path]
	old, ok := m[card.Name]
	if !ok {
		return errors.New("card not found")
	}
	c := *card
	c.ColPath = col.Path
	c.PrevLastmod = old.Lastmod
	c.Lastmod = stamp()
	m[c.Name] = &c
	card.Lastmod = c.Lastmod
	h.s.mutations++
	return nil
}

func (h *Handler) DeleteCard(ctx context.Context, col *backend.Collection, name string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	m := h.s.cards[col.Path]
	if _, ok := m[name]; !ok {
		return errors.New("card not found")
	}
	delete(m, name)
	h.s.mutations++
	return nil
}

func (h *Handler) CopyCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.copyCardLocked(from.Path, name, dest.Path, destName, overwrite, false)
}

func (h *Handler) MoveCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.copyCardLocked(from.Path, name, dest.Path, destName, overwrite, true)
}

func (h *Handler) copyCardLocked(fromPath, name, destPath, destName string, overwrite, move bool) error {
	src, ok := h.s.cards[fromPath][name]
	if !ok {
		return errors.New("card not found")
	}
	dm := h.s.cards[destPath]
	if dm == nil {
		dm = make(map[string]*backend.Card)
		h.s.cards[destPath] = dm
	}
	if _, exists := dm[destName]; exists && !overwrite {
		return backend.ErrExists
	}
	c := *src
	c.Name = destName
	c.ColPath = destPath
	c.Lastmod = stamp()
	dm[destName] = &c
	if move {
		delete(h.s.cards[fromPath], name)
	}
	h.s.mutations++
	return nil
}

func (h *Handler) File(ctx context.Context, col *backend.Collection, name string) (*backend.Resource, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	r, ok := h.s.files[col.Path][name]
	if !ok {
		return nil, nil
	}
	rr := *r
	return &rr, nil
}

func (h *Handler) FileContent(ctx context.Context, col *backend.Collection, name string) ([]byte, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	r, ok := h.s.files[col.Path][name]
	if !ok {
		return nil, errors.New("resource not found")
	}
	out := make([]byte, len(r.Content))
	copy(out, r.Content)
	return out, nil
}

func (h *Handler) PutFile(ctx context.Context, col *backend.Collection, res *backend.Resource) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	m := h.s.files[col.Path]
	if m == nil {
		m = make(map[string]*backend.Resource)
		h.s.files[col.Path] = m
	}
	if _, exists := m[res.Name]; exists {
		return backend.ErrExists
	}
	r := *res
	r.ColPath = col.Path
	r.Lastmod = stamp()
	r.Sequence = 0
	r.ContentLength = int64(len(r.Content))
	m[r.Name] = &r
	res.Lastmod = r.Lastmod
	res.Sequence = r.Sequence
	h.s.mutations++
	return nil
}

func (h *Handler) UpdateFile(ctx context.Context, col *backend.Collection, res *backend.Resource) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	m := h.s.files[col.Path]
	old, ok := m[res.Name]
	if !ok {
		return errors.New("resource not found")
	}
	r := *res
	r.ColPath = col.Path
	r.PrevLastmod = old.Lastmod
	r.PrevSequence = old.Sequence
	r.Lastmod = stamp()
	r.Sequence = old.Sequence + 1
	r.ContentLength = int64(len(r.Content))
	m[r.Name] = &r
	res.Lastmod = r.Lastmod
	res.Sequence = r.Sequence
	h.s.mutations++
	return nil
}

func (h *Handler) DeleteFile(ctx context.Context, col *backend.Collection, name string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	m := h.s.files[col.Path]
	if _, ok := m[name]; !ok {
		return errors.New("resource not found")
	}
	delete(m, name)
	h.s.mutations++
	return nil
}

func (h *Handler) CopyFile(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.copyFileLocked(from.Path, name, dest.Path, destName, overwrite, false)
}

func (h *Handler) MoveFile(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.copyFileLocked(from.Path, name, dest.Path, destName, overwrite, true)
}

func (h *Handler) copyFileLocked(fromPath, name, destPath, destName string, overwrite, move bool) error {
	src, ok := h.s.files[fromPath][name]
	if !ok {
		return errors.New("resource not found")
	}
	dm := h.s.files[destPath]
	if dm == nil {
		dm = make(map[string]*backend.Resource)
		h.s.files[destPath] = dm
	}
	if _, exists := dm[destName]; exists && !overwrite {
		return backend.ErrExists
	}
	r := *src
	r.Name = destName
	r.ColPath = destPath
	r.Lastmod = stamp()
	r.Sequence = 0
	r.PrevLastmod = ""
	r.PrevSequence = 0
	dm[destName] = &r
	if move {
		delete(h.s.files[fromPath], name)
	}
	h.s.mutations++
	return nil
}

func (h *Handler) CheckAccess(ctx context.Context, user string, col *backend.Collection, priv acl.Priv, returnResult bool) (backend.CurrentAccess, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var e acl.Effective
	if col.Owner == user {
		e = acl.Owner()
	} else if g, ok := h.s.grants[user][col.Path]; ok {
		e = g
	}
	allowed := e.Has(priv)
	if !allowed && !returnResult {
		return backend.CurrentAccess{}, backend.ErrAccessDenied
	}
	return backend.CurrentAccess{Allowed: allowed, Acl: e}, nil
}

func parentOf(p string) string {
	t := strings.TrimSuffix(p, "/")
	i := strings.LastIndex(t, "/")
	if i < 0 {
		return ""
	}
	return t[:i+1]
}

func leafOf(p string) string {
	t := strings.TrimSuffix(p, "/")
	i := strings.LastIndex(t, "/")
	return t[i+1:]
}
