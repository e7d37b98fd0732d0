package directory

type User struct {
	UID         string
	DN          string
	DisplayName string
	Mail        string
}

type GroupACL struct {
	AddressbookID string
	// privilege bits
	Read                        bool
	WriteProps                  bool
	WriteContent                bool
	Bind                        bool // create
	Unbind                      bool // delete
	ReadACL                     bool
	ReadCurrentUserPrivilegeSet bool
}

type Group struct {
	CN      string
	DN      string
	Members []string // DNs or UIDs
	ACLs    []GroupACL
}
