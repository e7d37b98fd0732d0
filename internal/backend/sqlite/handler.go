package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/carddav/filter"
	"github.com/averlon/carddavd/internal/directory"
	vcardutil "github.com/averlon/carddavd/pkg/vcard"
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
	row := h.s.db.QueryRowContext(ctx, `
		SELECT uid, display_name, mail FROM principals WHERE uid = ?`, uid)
	var p backend.Principal
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.Mail); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New("principal not found")
		}
		return nil, err
	}
	return &p, nil
}

const colColumns = `path, parent_path, name, display_name, description, is_addressbook, owner_uid, created, lastmod`

func scanCollection(row interface{ Scan(...any) error }) (*backend.Collection, error) {
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
	// Link the parent chain so callers can walk upward.
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
	row := h.s.db.QueryRowContext(ctx, `
		SELECT `+colColumns+` FROM collections WHERE path = ?`, path)
	col, err := scanCollection(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return col, nil
}

func (h *Handler) Collections(ctx context.Context, parent *backend.Collection) (backend.CollectionsResult, error) {
	rows, err := h.s.db.QueryContext(ctx, `
		SELECT `+colColumns+` FROM collections WHERE parent_path = ? ORDER BY path`, parent.Path)
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
	status := http.StatusCreated
	err := h.s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM collections WHERE path = ?`, col.Path).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			status = http.StatusMethodNotAllowed
			return nil
		}
		row := tx.QueryRow(`SELECT is_addressbook FROM collections WHERE path = ?`, col.ParentPath)
		var parentAB bool
		if err := row.Scan(&parentAB); err != nil {
			if err == sql.ErrNoRows {
				status = http.StatusConflict
				return nil
			}
			return err
		}
		if parentAB {
			status = http.StatusForbidden
			return nil
		}
		owner := col.Owner
		if owner == "" {
			owner = h.account
		}
		now := backend.Stamp()
		_, err := tx.Exec(`
			INSERT INTO collections (
				path, parent_path, name, display_name, description, is_addressbook, owner_uid, created, lastmod
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, col.Path, col.ParentPath, col.Name, col.DisplayName, col.Description, col.AddressBook, owner, now, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return status, nil
}

func (h *Handler) DeleteCollection(ctx context.Context, col *backend.Collection) error {
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		prefix := likePrefix(col.Path)
		for _, q := range []string{
			`DELETE FROM card_properties WHERE col_path = ? OR col_path LIKE ? ESCAPE '\'`,
			`DELETE FROM cards WHERE col_path = ? OR col_path LIKE ? ESCAPE '\'`,
			`DELETE FROM resources WHERE col_path = ? OR col_path LIKE ? ESCAPE '\'`,
			`DELETE FROM collections WHERE path = ? OR path LIKE ? ESCAPE '\'`,
		} {
			if _, err := tx.Exec(q, col.Path, prefix); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Handler) CopyCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite bool) error {
	return h.copyCollection(ctx, from, destPath, overwrite, false)
}

func (h *Handler) MoveCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite bool) error {
	return h.copyCollection(ctx, from, destPath, overwrite, true)
}

func (h *Handler) copyCollection(ctx context.Context, from *backend.Collection, destPath string, overwrite, move bool) error {
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM collections WHERE path = ?`, destPath).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			if !overwrite {
				return backend.ErrExists
			}
			if _, err := tx.Exec(`DELETE FROM collections WHERE path = ?`, destPath); err != nil {
				return err
			}
		}
		parent, leaf := splitDest(destPath)
		now := backend.Stamp()
		if _, err := tx.Exec(`
			INSERT INTO collections (path, parent_path, name, display_name, description, is_addressbook, owner_uid, created, lastmod)
			SELECT ?, ?, ?, display_name, description, is_addressbook, owner_uid, created, ?
			FROM collections WHERE path = ?
		`, destPath, parent, leaf, now, from.Path); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO cards (col_path, name, uid, lastmod, prev_lastmod, data)
			SELECT ?, name, uid, lastmod, prev_lastmod, data FROM cards WHERE col_path = ?
		`, destPath, from.Path); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO card_properties (col_path, card_name, prop_name, prop_value)
			SELECT ?, card_name, prop_name, prop_value FROM card_properties WHERE col_path = ?
		`, destPath, from.Path); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO resources (col_path, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq)
			SELECT ?, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq FROM resources WHERE col_path = ?
		`, destPath, from.Path); err != nil {
			return err
		}
		if move {
			for _, q := range []string{
				`DELETE FROM card_properties WHERE col_path = ?`,
				`DELETE FROM cards WHERE col_path = ?`,
				`DELETE FROM resources WHERE col_path = ?`,
				`DELETE FROM collections WHERE path = ?`,
			} {
				if _, err := tx.Exec(q, from.Path); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (h *Handler) Card(ctx context.Context, col *backend.Collection, name string) (*backend.Card, error) {
	row := h.s.db.QueryRowContext(ctx, `
		SELECT col_path, name, uid, lastmod, prev_lastmod, data
		FROM cards WHERE col_path = ? AND name = ?`, col.Path, name)
	card, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return card, nil
}

func scanCard(row interface{ Scan(...any) error }) (*backend.Card, error) {
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
	where, args := backend.CardFilterSQL(f, func() string { return "?" })
	q := `SELECT c.col_path, c.name, c.uid, c.lastmod, c.prev_lastmod, c.data
		FROM cards c WHERE c.col_path = ?`
	qargs := append([]any{col.Path}, args...)
	if where != "" {
		q += " AND " + where
	}
	q += " ORDER BY c.name"

	// Fetch one row past the effective cap to detect truncation.
	eff := h.maxResults
	capIsClient := false
	if limits.Limit != nil && (eff <= 0 || *limits.Limit < eff) {
		eff = *limits.Limit
		capIsClient = true
	}
	if eff > 0 {
		q += " LIMIT ?"
		qargs = append(qargs, eff+1)
	}

	rows, err := h.s.db.QueryContext(ctx, q, qargs...)
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
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		now := backend.Stamp()
		if _, err := tx.Exec(`
			INSERT INTO cards (col_path, name, uid, lastmod, prev_lastmod, data)
			VALUES (?, ?, ?, ?, '', ?)
		`, col.Path, card.Name, card.UID, now, card.Raw); err != nil {
			return err
		}
		card.ColPath = col.Path
		card.Lastmod = now
		return insertCardProperties(tx, col.Path, card)
	})
}

func (h *Handler) UpdateCard(ctx context.Context, col *backend.Collection, card *backend.Card) error {
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		now := backend.Stamp()
		res, err := tx.Exec(`
			UPDATE cards SET uid = ?, prev_lastmod = lastmod, lastmod = ?, data = ?
			WHERE col_path = ? AND name = ?
		`, card.UID, now, card.Raw, col.Path, card.Name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("card not found")
		}
		card.ColPath = col.Path
		card.Lastmod = now
		if _, err := tx.Exec(`
			DELETE FROM card_properties WHERE col_path = ? AND card_name = ?
		`, col.Path, card.Name); err != nil {
			return err
		}
		return insertCardProperties(tx, col.Path, card)
	})
}

func insertCardProperties(tx *sql.Tx, colPath string, card *backend.Card) error {
	for name, fields := range card.Card {
		for _, f := range fields {
			if f == nil {
				continue
			}
			if _, err := tx.Exec(`
				INSERT INTO card_properties (col_path, card_name, prop_name, prop_value)
				VALUES (?, ?, ?, ?)
			`, colPath, card.Name, strings.ToUpper(name), f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) DeleteCard(ctx context.Context, col *backend.Collection, name string) error {
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM card_properties WHERE col_path = ? AND card_name = ?
		`, col.Path, name); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM cards WHERE col_path = ? AND name = ?`, col.Path, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("card not found")
		}
		return nil
	})
}

func (h *Handler) CopyCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	return h.copyCard(ctx, from, name, dest, destName, overwrite, false)
}

func (h *Handler) MoveCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite bool) error {
	return h.copyCard(ctx, from, name, dest, destName, overwrite, true)
}

func (h *Handler) copyCard(ctx context.Context, from *backend.Collection, name string, dest *backend.Collection, destName string, overwrite, move bool) error {
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM cards WHERE col_path = ? AND name = ?`, dest.Path, destName).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			if !overwrite {
				return backend.ErrExists
			}
			if _, err := tx.Exec(`DELETE FROM card_properties WHERE col_path = ? AND card_name = ?`, dest.Path, destName); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM cards WHERE col_path = ? AND name = ?`, dest.Path, destName); err != nil {
				return err
			}
		}
		now := backend.Stamp()
		res, err := tx.Exec(`
			INSERT INTO cards (col_path, name, uid, lastmod, prev_lastmod, data)
			SELECT ?, ?, uid, ?, '', data FROM cards WHERE col_path = ? AND name = ?
		`, dest.Path, destName, now, from.Path, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("card not found")
		}
		if _, err := tx.Exec(`
			INSERT INTO card_properties (col_path, card_name, prop_name, prop_value)
			SELECT ?, ?, prop_name, prop_value FROM card_properties WHERE col_path = ? AND card_name = ?
		`, dest.Path, destName, from.Path, name); err != nil {
			return err
		}
		if move {
			if _, err := tx.Exec(`DELETE FROM card_properties WHERE col_path = ? AND card_name = ?`, from.Path, name); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM cards WHERE col_path = ? AND name = ?`, from.Path, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Handler) File(ctx context.Context, col *backend.Collection, name string) (*backend.Resource, error) {
	row := h.s.db.QueryRowContext(ctx, `
		SELECT col_path, name, content_type, length(content), lastmod, seq, prev_lastmod, prev_seq
		FROM resources WHERE col_path = ? AND name = ?`, col.Path, name)
	var r backend.Resource
	if err := row.Scan(&r.ColPath, &r.Name, &r.ContentType, &r.ContentLength,
		&r.Lastmod, &r.Sequence, &r.PrevLastmod, &r.PrevSequence); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (h *Handler) FileContent(ctx context.Context, col *backend.Collection, name string) ([]byte, error) {
	row := h.s.db.QueryRowContext(ctx, `
		SELECT content FROM resources WHERE col_path = ? AND name = ?`, col.Path, name)
	var content []byte
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New("resource not found")
		}
		return nil, err
	}
	return content, nil
}

func (h *Handler) PutFile(ctx context.Context, col *backend.Collection, res *backend.Resource) error {
	now := backend.Stamp()
	_, err := h.s.db.ExecContext(ctx, `
		INSERT INTO resources (col_path, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq)
		VALUES (?, ?, ?, ?, ?, 0, '', 0)
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
	r, err := h.s.db.ExecContext(ctx, `
		UPDATE resources
		SET content_type = ?, content = ?, prev_lastmod = lastmod, prev_seq = seq,
			lastmod = ?, seq = seq + 1
		WHERE col_path = ? AND name = ?
	`, res.ContentType, res.Content, now, col.Path, res.Name)
	if err != nil {
		return err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("resource not found")
	}
	res.ColPath = col.Path
	res.Lastmod = now
	res.ContentLength = int64(len(res.Content))
	return nil
}

func (h *Handler) DeleteFile(ctx context.Context, col *backend.Collection, name string) error {
	res, err := h.s.db.ExecContext(ctx, `
		DELETE FROM resources WHERE col_path = ? AND name = ?`, col.Path, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
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
	return h.s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM resources WHERE col_path = ? AND name = ?`, dest.Path, destName).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			if !overwrite {
				return backend.ErrExists
			}
			if _, err := tx.Exec(`DELETE FROM resources WHERE col_path = ? AND name = ?`, dest.Path, destName); err != nil {
				return err
			}
		}
		now := backend.Stamp()
		res, err := tx.Exec(`
			INSERT INTO resources (col_path, name, content_type, content, lastmod, seq, prev_lastmod, prev_seq)
			SELECT ?, ?, content_type, content, ?, 0, '', 0 FROM resources WHERE col_path = ? AND name = ?
		`, dest.Path, destName, now, from.Path, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("resource not found")
		}
		if move {
			if _, err := tx.Exec(`DELETE FROM resources WHERE col_path = ? AND name = ?`, from.Path, name); err != nil {
				return err
			}
		}
		return nil
	})
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
