package identity

import "strings"

// idClaims are the ID-token claims an account descriptor is built from.
type idClaims struct {
	Subject           string   `json:"sub"`
	ObjectID          string   `json:"oid"`
	TenantID          string   `json:"tid"`
	Name              string   `json:"name"`
	GivenName         string   `json:"given_name"`
	FamilyName        string   `json:"family_name"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Emails            []string `json:"emails"`
}

func (cl idClaims) account() Account {
	id := cl.ObjectID
	if id == "" {
		id = cl.Subject
	}
	if id != "" && cl.TenantID != "" {
		id += "." + cl.TenantID
	}

	name := cl.Name
	if name == "" {
		name = strings.TrimSpace(cl.GivenName + " " + cl.FamilyName)
	}

	username := cl.PreferredUsername
	if username == "" {
		username = cl.Email
	}
	if username == "" && len(cl.Emails) > 0 {
		username = cl.Emails[0]
	}

	return Account{ID: id, DisplayName: name, Username: username}
}
