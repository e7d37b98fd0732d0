package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/carddav/filter"
	"github.com/averlon/carddavd/internal/directory"
	vcardutil "github.com/averlon/carddavd/pkg/vcard"

	"github.com/jackc/pgx/v5"
)

// Handler is a per-account session over the shared Store.
type Handler struct {
	s    *Store
	dir  directory.Directory
	aclp acl.Provider

	prefix     string
	account    string
	open       bool
	maxResults int
}

func NewHandler(s *Store, dir directory.Directory, aclp acl.Provider, prefix string, maxResults int) *Handler {
	return &Handler{s: s, dir: dir, aclp: aclp, prefix: prefix, maxResults: maxResults}
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
	uid := strings.Trim(strings.TrimPrefix(path, "/principals/"), "/")
	uid = strings.TrimPrefix(uid, "users/")
	uid = strings.TrimSuffix(uid, "/")
	row := h.s.pool.QueryRow(ctx, `
		SELECT uid, display_name, mail FROM principals WHERE uid = $1`, uid)
	var p backend.Principal
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.Mail); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New("principal not found")
		}
		return nil, err
	}
	return &p, nil
}

const colColumns = `path, parent_path, name, display_name, description, is_addressbook, owner_uid, created, lastmod`

func scanCollection(row pgx.Row) (*backend.Collection, error) {
	var c backend.Collection
	if err := row.Scan(&c.Path, &c.ParentPath, &c.Name, &c.DisplayName, &c.Description,
		&c.AddressBook, &c.Owner, &c.Created, &c.Lastmod); err != nil {
		return nil, err
	}
	return &c, nil
}

func (h *Handler) Collection(ctx context.Context, path string) (*backend.Collection, error) {
	col, err := h.lookup(ctx, path)
	if err != nil || col == nil {
		return col, err
	}
	cur := col
	for cur.ParentPath != "" {
		parent, err := h.lookup(ctx, cur.ParentPath)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		cur.Parent = parent
		cur = parent
	}
	return col, nil
}

func (h *Handler) lookup(ctx context.Context, path string) (*backend.Collection, error) {
	row := h.s.pool.QueryRow(ctx, `
		SELECT `+colColumns+` FROM collections WHERE path = $1`, path)
	col, err := scanCollection(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return col, nil
}

func (h *Handler) Collections(ctx context.Context, parent *backend.Collection) (backend.CollectionsResult, error) {
	rows, err := h.s.pool.Query(ctx, `
		SELECT `+colColumns+` FROM collections WHERE parent_path = $1 ORDER BY path`, parent.Path)
	if err != nil {
		return backend.CollectionsResult{}, err
	}
	defer rows.Close()
	var out backend.CollectionsResult
	for rows.Next() {
		col, err := scanCollection(rows)
		if err != nil {
			return backend.CollectionsResult{}, err
		}
		out.Collections = append(out.Collections, col)
	}
	return out, rows.Err()
}

func (h *Handler) MakeCollection(ctx context.Context, col *backend.Collection) (int, error) {
	tx, err := h.s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM collections WHERE path = $1`, col.Path).Scan(&exists); err != nil {
		return 0, err
	}
	if exists > 0 {
		return http.StatusMethodNotAllowed, nil
	}
	var parentAB bool
	if err := tx.QueryRow(ctx, `SELECT is_addressbook FROM collections WHERE path = $1`, col.ParentPath).Scan(&parentAB); err != nil {
		if err == pgx.ErrNoRows {
			return http.StatusConflict, nil
		}
		return 0, err
	}
	if parentAB {
		return http.StatusForbidden, nil
	}
	owner := col.Owner
	if owner == "" {
		owner = h.account
	}
	now := backend.Stamp()
	if _, err := tx.Exec(ctx, `
		INSERT INTO collections (
			path, parent_path, name, display_name, description, is_addressbook, owner_uid, created, lastmod
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, col.Path, col.ParentPath, col.Name, col.DisplayName, col.Description, col.AddressBook, owner, now, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return http.StatusCreated, nil
}

func (h *Handler) DeleteCollection(ctx context.Context, col *backend.Collection) error {
	prefix := likePrefix(col.Path)
	_, err := h.s.pool.Exec(ctx, `
		DELETE FROM collections WHERE path = $1 OR path LIKE $2 ESCAPE '\'`, col.Path, prefix)
	return err
}

func (h *Handler) CopyCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite bool) error {
	return h.copyCollection(ctx, from, destPath, overwrite, false)
}

func (h *Handler) MoveCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite bool) error {
	return h.copyCollection(ctx, from, destPath, overwrite, true)
}

func (h *Handler) copyCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite, move bool) error {
	tx, err := h.s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM collections WHERE path = $1`, destPath).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		if !overwrite {
			return backend.ErrExists
		}
		if _, err := tx.Exec(ctx, `DELETE FROM collections WHERE path = $1`, destPath); err != nil {
			return err
		}
	}
	parent, leaf := splitDest(destPath)
	now := backend.Stamp()
	if _, err := tx.Exec(ctx, `
		INSERT INTO collections (path, parent_path, name, display_name, description, is_addressbook, owner_uid, created, lastmod)
		SELECT $1, $2, $3, display_name, description, is_addressbook, owner_uid, created, $4
		FROM collections WHERE path = $5
	`, destPath, parent, leaf, now, from.Path); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO cards (col_path, name, uid, lastmod, prev_lastmod, data)
		SELECT $1, name, uid, lastmod, prev_lastmod, data FROM cards WHERE col_path = $2
	`, destPath, from.Path); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO card_properties (col_path, card_name, prop_name, prop_value)
		SELECT $1, card_name, prop_name, prop_value FROM card_properties WHERE col_path = $2
	`, destPath, from.Path); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO resources (col_path, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq)
		SELECT $1, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq FROM resources WHERE col_path = $2
	`, destPath, from.Path); err != nil {
		return err
	}
	if move {
		if _, err := tx.Exec(ctx, `DELETE FROM collections WHERE path = $1`, from.Path); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (h *Handler) Card(ctx context.Context, col *backend.Collection, name string) (*backend.Card, error) {
	row := h.s.pool.QueryRow(ctx, `
		SELECT col_path, name, uid, lastmod, prev_lastmod, data
		FROM cards WHERE col_path = $1 AND name = $2`, col.Path, name)
	card, err := scanCard(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return card, nil
}

func scanCard(row pgx.Row) (*backend.Card, error) {
	var c backend.Card
	if err := row.Scan(&c.ColPath, &c.Name, &c.UID, &c.Lastmod, &c.PrevLastmod, &c.Raw); err != nil {
		return nil, err
	}
	parsed, _, err := vcardutil.Parse([]byte(c.Raw))
	if err == nil {
		c.Card = parsed
	}
	return &c, nil
}

func (h *Handler) Cards(ctx context.Context, col *backend.Collection, f *filter.Filter, limits backend.Limits) (backend.CardsResult, error) {
	n := 1
	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}
	where, args := backend.CardFilterSQL(f, next)
	q := `SELECT c.col_path, c.name, c.uid, c.lastmod, c.prev_lastmod, c.data
		FROM cards c WHERE c.col_path = $1`
	qargs := append([]any{col.Path}, args...)
	if where != "" {
		q += " AND " + where
	}
	q += " ORDER BY c.name"

	eff := h.maxResults
	capIsClient := false
	if limits.Limit != nil && (eff <= 0 || *limits.Limit < eff) {
		eff = *limits.Limit
		capIsClient = true
	}
	if eff > 0 {
		q += " LIMIT " + next()
		qargs = append(qargs, eff+1)
	}

	rows, err := h.s.pool.Query(ctx, q, qargs...)
	if err != nil {
		return backend.CardsResult{}, err
	}
	defer rows.Close()

	var out backend.CardsResult
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return backend.CardsResult{}, err
		}
		out.Cards = append(out.Cards, card)
	}
	if err := rows.Err(); err != nil {
		return backend.CardsResult{}, err
	}
	if eff > 0 && len(out.Cards) > eff {
		out.Cards = out.Cards[:eff]
		if capIsClient {
			out.OverLimit = true
		} else {
			out.Truncated = true
		}
	}
	return out, nil
}

func (h *Handler) AddCard(ctx context.Context, col *backend.Collection, card *backend.Card) error {
	tx, err := h.s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := backend.Stamp()
	if _, err := tx.Exec(ctx, `
		INSERT INTO cards (col_path, name, uid, lastmod, prev_lastmod, data)
		VALUES ($1, $2, $3, $4, '', $5)
	`, col.Path, card.Name, card.UID, now, card.Raw); err != nil {
		return err
	}
	card.ColPath = col.Path
	card.Lastmod = now
	if err := insertCardProperties(ctx, tx, col.Path, card); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (h *Handler) UpdateCard(ctx context.Context, col *backend.Collection, card *backend.Card) error {
	tx, err := h.s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := backend.Stamp()
	tag, err := tx.Exec(ctx, `
		UPDATE cards SET uid = $1, prev_lastmod = lastmod, lastmod = $2, data = $3
		WHERE col_path = $4 AND name = $5
	`, card.UID, now, card.Raw, col.Path, card.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("card not found")
	}
	card.ColPath = col.Path
	card.Lastmod = now
	if _, err := tx.Exec(ctx, `
		DELETE FROM card_properties WHERE col_path = $1 AND card_name = $2
	`, col.Path, card.Name); err != nil {
		return err
	}
	if err := insertCardProperties(ctx, tx, col.Path, card); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertCardProperties(ctx context.Context, tx pgx.Tx, colPath string, card *backend.Card) error {
	for name, fields := range card.Card {
		for _, f := range fields {
			if f == nil {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO card_properties (col_path, card_name, prop_name, prop_value)
				VALUES ($1, $2, $3, $4)
			`, colPath, card.Name, strings.ToUpper(name), f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) DeleteCard(ctx context.Context, col *backend.Collection, name string) error {
	tag, err := h.s.pool.Exec(ctx, `
		DELETE FROM cards WHERE col_path = $1 AND name = $2`, col.Path, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("card not found")
	}
	return nil
}

func (h *Handler) CopyCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	return h.copyCard(ctx, from, name, dest, destName, overwrite, false)
}

func (h *Handler) MoveCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	return h.copyCard(ctx, from, name, dest, destName, overwrite, true)
}

func (h *Handler) copyCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite, move bool) error {
	tx, err := h.s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM cards WHERE col_path = $1 AND name = $2`, dest.Path, destName).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		if !overwrite {
			return backend.ErrExists
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cards WHERE col_path = $1 AND name = $2`, dest.Path, destName); err != nil {
			return err
		}
	}
	now := backend.Stamp()
	tag, err := tx.Exec(ctx, `
		INSERT INTO cards (col_path, name, uid, lastmod, prev_lastmod, data)
		SELECT $1, $2, uid, $3, '', data FROM cards WHERE col_path = $4 AND name = $5
	`, dest.Path, destName, now, from.Path, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("card not found")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO card_properties (col_path, card_name, prop_name, prop_value)
		SELECT $1, $2, prop_name, prop_value FROM card_properties WHERE col_path = $3 AND card_name = $4
	`, dest.Path, destName, from.Path, name); err != nil {
		return err
	}
	if move {
		if _, err := tx.Exec(ctx, `DELETE FROM cards WHERE col_path = $1 AND name = $2`, from.Path, name); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (h *Handler) File(ctx context.Context, col *backend.Collection, name string) (*backend.Resource, error) {
	row := h.s.pool.QueryRow(ctx, `
		SELECT col_path, name, content_type, length(content), lastmod, seq, prev_lastmod, prev_seq
		FROM resources WHERE col_path = $1 AND name = $2`, col.Path, name)
	var r backend.Resource
	if err := row.Scan(&r.ColPath, &r.Name, &r.ContentType, &r.ContentLength,
		&r.Lastmod, &r.Sequence, &r.PrevLastmod, &r.PrevSequence); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (h *Handler) FileContent(ctx context.Context, col *backend.Collection, name string) ([]byte, error) {
	var content []byte
	if err := h.s.pool.QueryRow(ctx, `
		SELECT content FROM resources WHERE col_path = $1 AND name = $2`, col.Path, name).Scan(&content); err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New("resource not found")
		}
		return nil, err
	}
	return content, nil
}

func (h *Handler) PutFile(ctx context.Context, col *backend.Collection, res *backend.Resource) error {
	now := backend.Stamp()
	_, err := h.s.pool.Exec(ctx, `
		INSERT INTO resources (col_path, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq)
		VALUES ($1, $2, $3, $4, $5, 0, '', 0)
	`, col.Path, res.Name, res.ContentType, res.Content, now)
	if err != nil {
		return err
	}
	res.ColPath = col.Path
	res.Lastmod = now
	res.Sequence = 0
	res.ContentLength = int64(len(res.Content))
	return nil
}

func (h *Handler) UpdateFile(ctx context.Context, col *backend.Collection, res *backend.Resource) error {
	now := backend.Stamp()
	tag, err := h.s.pool.Exec(ctx, `
		UPDATE resources
		SET content_type = $1, content = $2, prev_lastmod = lastmod, prev_seq = seq,
			lastmod = $3, seq = seq + 1
		WHERE col_path = $4 AND name = $5
	`, res.ContentType, res.Content, now, col.Path, res.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("resource not found")
	}
	res.ColPath = col.Path
	res.Lastmod = now
	res.ContentLength = int64(len(res.Content))
	return nil
}

func (h *Handler) DeleteFile(ctx context.Context, col *backend.Collection, name string) error {
	tag, err := h.s.pool.Exec(ctx, `
		DELETE FROM resources WHERE col_path = $1 AND name = $2`, col.Path, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("resource not found")
	}
	return nil
}

func (h *Handler) CopyFile(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	return h.copyFile(ctx, from, name, dest, destName, overwrite, false)
}

func (h *Handler) MoveFile(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	return h.copyFile(ctx, from, name, dest, destName, overwrite, true)
}

func (h *Handler) copyFile(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite, move bool) error {
	tx, err := h.s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM resources WHERE col_path = $1 AND name = $2`, dest.Path, destName).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		if !overwrite {
			return backend.ErrExists
		}
		if _, err := tx.Exec(ctx, `DELETE FROM resources WHERE col_path = $1 AND name = $2`, dest.Path, destName); err != nil {
			return err
		}
	}
	now := backend.Stamp()
	tag, err := tx.Exec(ctx, `
		INSERT INTO resources (col_path, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq)
		SELECT $1, $2, content_type, content, $3, 0, '', 0 FROM resources WHERE col_path = $4 AND name = $5
	`, dest.Path, destName, now, from.Path, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("resource not found")
	}
	if move {
		if _, err := tx.Exec(ctx, `DELETE FROM resources WHERE col_path = $1 AND name = $2`, from.Path, name); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (h *Handler) CheckAccess(ctx context.Context, user string, col *backend.Collection, priv acl.Priv, returnResult bool) (backend.CurrentAccess, error) {
	var e acl.Effective
	if col.Owner == user {
		e = acl.Owner()
	} else if h.dir != nil && h.aclp != nil {
		u, err := h.dir.LookupUserByAttr(ctx, "uid", user)
		if err == nil {
			if eff, aerr := h.aclp.Effective(ctx, u, col.Name); aerr == nil {
				e = eff
			}
		}
	}
	allowed := e.Has(priv)
	if !allowed && !returnResult {
		return backend.CurrentAccess{}, backend.ErrAccessDenied
	}
	return backend.CurrentAccess{Allowed: allowed, Acl: e}, nil
}

func likePrefix(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return s + "%"
}

func splitDest(p string) (parent, leaf string) {
	t := strings.TrimSuffix(p, "/")
	i := strings.LastIndex(t, "/")
	if i < 0 {
		return "/", t
	}
	return t[:i+1], t[i+1:]
}
