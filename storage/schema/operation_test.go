package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysAreCaseInsensitiveOnAddresses(t *testing.T) {
	assert.Equal(t,
		OperationBySenderKey("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6", "01J"),
		OperationBySenderKey("0x7C3A76086588230C7B3F4839A4C1F5BBAFCD57C6", "01J"))
	assert.Equal(t, "oh:0xabc", string(OperationByHashKey("0xABC")))
}

func TestIDFromIndexKey(t *testing.T) {
	key := OperationBySenderKey("0xabc", "01HZX3K0000000000000000000")
	assert.Equal(t, "01HZX3K0000000000000000000", IDFromIndexKey(key))
	assert.Equal(t, "01J", IDFromIndexKey(OperationKey("01J")))
}
