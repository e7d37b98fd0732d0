package acl

// Priv identifies a single WebDAV privilege the access gate can ask for.
type Priv uint32

const (
	PrivRead Priv = 1 << iota
	PrivWriteProps
	PrivWriteContent
	PrivBind
	PrivUnbind
	PrivReadACL
	PrivAll = PrivRead | PrivWriteProps | PrivWriteContent | PrivBind | PrivUnbind | PrivReadACL
	// PrivAny matches when the principal holds at least one privilege.
	PrivAny Priv = 0
)

type Effective struct {
	Read                        bool
	WriteProps                  bool
	WriteContent                bool
	Bind                        bool
	Unbind                      bool
	ReadACL                     bool
	ReadCurrentUserPrivilegeSet bool
}

// Owner is the full privilege set granted to a collection's owner.
func Owner() Effective {
	return Effective{
		Read:                        true,
		WriteProps:                  true,
		WriteContent:                true,
		Bind:                        true,
		Unbind:                      true,
		ReadACL:                     true,
		ReadCurrentUserPrivilegeSet: true,
	}
}

func (e Effective) Has(p Priv) bool {
	if p == PrivAny {
		return e.Read || e.WriteProps || e.WriteContent || e.Bind || e.Unbind || e.ReadACL
	}
	if p&PrivRead != 0 && !e.Read {
		return false
	}
	if p&PrivWriteProps != 0 && !e.WriteProps {
		return false
	}
	if p&PrivWriteContent != 0 && !e.WriteContent {
		return false
	}
	if p&PrivBind != 0 && !e.Bind {
		return false
	}
	if p&PrivUnbind != 0 && !e.Unbind {
		return false
	}
	if p&PrivReadACL != 0 && !e.ReadACL {
		return false
	}
	return true
}

func (e Effective) CanRead() bool   { return e.Read }
func (e Effective) CanWrite() bool  { return e.WriteProps || e.WriteContent }
func (e Effective) CanCreate() bool { return e.Bind }
func (e Effective) CanDelete() bool { return e.Unbind }

func (e Effective) CanReadCurrentUserPrivilegeSet() bool {
	return e.ReadCurrentUserPrivilegeSet || e.Read
}
