package s3

import (
	"blobkit/internal/blob/core"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	actionGetObject  = "s3:GetObject"
	actionListBucket = "s3:ListBucket"
)

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string          `json:"Sid,omitempty"`
	Effect    string          `json:"Effect"`
	Principal json.RawMessage `json:"Principal"`
	Action    stringList      `json:"Action"`
	Resource  stringList      `json:"Resource"`
}

// stringList decodes IAM fields that may be a single string or an array.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func (l stringList) has(v string) bool {
	for _, s := range l {
		if s == v || s == "s3:*" || s == "*" {
			return true
		}
	}
	return false
}

// policyFor renders the anonymous-read bucket policy for p. Private
// containers carry no policy at all.
func policyFor(bucket string, p core.AccessPolicy) (string, error) {
	doc := policyDocument{Version: "2012-10-17"}
	public := json.RawMessage(`{"AWS":["*"]}`)
	switch p {
	case core.AccessObjectReadable, core.AccessContainerReadable:
		doc.Statement = append(doc.Statement, policyStatement{
			Sid:       "BlobRead",
			Effect:    "Allow",
			Principal: public,
			Action:    stringList{actionGetObject},
			Resource:  stringList{"arn:aws:s3:::" + bucket + "/*"},
		})
	default:
		return "", fmt.Errorf("no bucket policy for access %q", p)
	}
	if p == core.AccessContainerReadable {
		doc.Statement = append(doc.Statement, policyStatement{
			Sid:       "ContainerList",
			Effect:    "Allow",
			Principal: public,
			Action:    stringList{actionListBucket},
			Resource:  stringList{"arn:aws:s3:::" + bucket},
		})
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// accessFromPolicy reads back the access level a bucket policy grants to
// anonymous principals. Statements we did not write still count when they
// grant the same actions.
func accessFromPolicy(raw string) (core.AccessPolicy, error) {
	if strings.TrimSpace(raw) == "" {
		return core.AccessPrivate, nil
	}
	var doc policyDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("decode bucket policy: %w", err)
	}
	var read, list bool
	for _, st := range doc.Statement {
		if st.Effect != "Allow" || !anonymous(st.Principal) {
			continue
		}
		read = read || st.Action.has(actionGetObject)
		list = list || st.Action.has(actionListBucket)
	}
	switch {
	case read && list:
		return core.AccessContainerReadable, nil
	case read:
		return core.AccessObjectReadable, nil
	}
	return core.AccessPrivate, nil
}

func anonymous(principal json.RawMessage) bool {
	var star string
	if err := json.Unmarshal(principal, &star); err == nil {
		return star == "*"
	}
	var m map[string]stringList
	if err := json.Unmarshal(principal, &m); err != nil {
		return false
	}
	for _, v := range m["AWS"] {
		if v == "*" {
			return true
		}
	}
	return false
}
