package acl

import (
	"context"

	"github.com/averlon/carddavd/internal/directory"
)

type Provider interface {
	// Compute effective privileges for user on a given addressbook URI
	// from directory group ACLs.
	Effective(ctx context.Context, user *directory.User, addressbookURI string) (Effective, error)
	// List addressbook URIs the user can at least read.
	VisibleAddressbooks(ctx context.Context, user *directory.User) (map[string]Effective, error)
}

type LDAPACL struct {
	Dir directory.Directory
}

func NewLDAPACL(dir directory.Directory) *LDAPACL {
	return &LDAPACL{Dir: dir}
}

func (p *LDAPACL) Effective(ctx context.Context, user *directory.User, addressbookURI string) (Effective, error) {
	acls, err := p.Dir.UserGroupsACL(ctx, user)
	if err != nil {
		return Effective{}, err
	}
	e := Effective{}
	for _, a := range acls {
		if a.AddressbookID != addressbookURI {
			continue
		}
		e = merge(e, a)
	}
	return e, nil
}

func (p *LDAPACL) VisibleAddressbooks(ctx context.Context, user *directory.User) (map[string]Effective, error) {
	acls, err := p.Dir.UserGroupsACL(ctx, user)
	if err != nil {
		return nil, err
	}
	m := map[string]Effective{}
	for _, a := range acls {
		m[a.AddressbookID] = merge(m[a.AddressbookID], a)
	}
	return m, nil
}

func merge(e Effective, a directory.GroupACL) Effective {
	if a.Read {
		e.Read = true
	}
	if a.WriteProps {
		e.WriteProps = true
	}
	if a.WriteContent {
		e.WriteContent = true
	}
	if a.Bind {
		e.Bind = true
	}
	if a.Unbind {
		e.Unbind = true
	}
	if a.ReadACL {
		e.ReadACL = true
	}
	if a.ReadCurrentUserPrivilegeSet {
		e.ReadCurrentUserPrivilegeSet = true
	}
	return e
}
