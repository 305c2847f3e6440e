package schema

import (
	"fmt"
	"strings"
)

// Journal key layout:
//   op:<id>                 operation record (json)
//   os:<sender>:<id>        index of operations per smart account, empty value
//   oh:<userOpHash>         operation id for a user operation hash
//   ct:<state>              number of lifecycles that ended in a state

func OperationKey(id string) []byte {
	return []byte(fmt.Sprintf("op:%s", id))
}

func OperationPrefix() []byte {
	return []byte("op:")
}

func OperationBySenderKey(sender, id string) []byte {
	return []byte(fmt.Sprintf("os:%s:%s", strings.ToLower(sender), id))
}

func OperationBySenderPrefix(sender string) []byte {
	return []byte(fmt.Sprintf("os:%s:", strings.ToLower(sender)))
}

func OperationByHashKey(userOpHash string) []byte {
	return []byte(fmt.Sprintf("oh:%s", strings.ToLower(userOpHash)))
}

func StateCounterKey(state string) []byte {
	return []byte(fmt.Sprintf("ct:%s", state))
}

// IDFromIndexKey returns the trailing operation id of an index key.
func IDFromIndexKey(key []byte) string {
	s := string(key)
	return s[strings.LastIndex(s, ":")+1:]
}
