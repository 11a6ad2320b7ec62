package badger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

// Key layout
//
//	n:<id>                 node record (JSON)
//	c:<parent>:<name>      child index, value is the child id
//	v:<id>:<seq>           version record (JSON), seq zero-padded
//	meta:root              id of the root node
const (
	prefixNode    = "n:"
	prefixChild   = "c:"
	prefixVersion = "v:"
	keyRoot       = "meta:root"
)

func keyNode(ref repository.NodeRef) []byte {
	return []byte(prefixNode + string(ref))
}

func keyChild(parent repository.NodeRef, name string) []byte {
	return []byte(prefixChild + string(parent) + ":" + name)
}

func keyChildPrefix(parent repository.NodeRef) []byte {
	return []byte(prefixChild + string(parent) + ":")
}

func keyVersion(ref repository.NodeRef, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", prefixVersion, ref, seq))
}

func keyVersionPrefix(ref repository.NodeRef) []byte {
	return []byte(prefixVersion + string(ref) + ":")
}

func seqFromVersionKey(key []byte) (int, error) {
	s := string(key)
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return 0, fmt.Errorf("malformed version key %q", s)
	}
	return strconv.Atoi(s[i+1:])
}
