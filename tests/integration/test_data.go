package integration

import (
	"fmt"
	"time"
)

// TestCredentials generates unique credentials per test run.
func TestCredentials(suffix string) (email, password string) {
	email = fmt.Sprintf("test-%d-%s@example.com", time.Now().UnixNano(), suffix)
	password = "SturdyPassphrase42!"
	return
}
