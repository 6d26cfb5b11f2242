package models

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix
// Example: GenerateID("plugin") -> "plugin:uuid-here"
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s:%s", prefix, uuid.New().String())
}

// jvmIDNamespace scopes derived JVM identities.
var jvmIDNamespace = uuid.MustParse("8b3ce0f4-52a4-4d8e-9d0c-6f1f9a2c3b71")

// DeriveJvmID returns a stable identity for a JVM that did not report one,
// derived from its connect URL.
func DeriveJvmID(connectURL string) string {
	return uuid.NewSHA1(jvmIDNamespace, []byte(connectURL)).String()
}
