// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1
	"encoding/hex"
	"strconv"
)

// gitBlobSHA returns the object id git assigns to a blob with content.
func gitBlobSHA(content string) string {
	h := sha1.New() //nolint:gosec // git object ids are SHA-1
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
