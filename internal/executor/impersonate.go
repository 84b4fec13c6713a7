package executor

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/ternarybob/faber/internal/models"
)

// minImpersonationUID blocks impersonation of system accounts. The service
// account's sudoers rule should mirror this bound.
const minImpersonationUID = 1000

// SudoImpersonator runs the assistant as the submitting user through a
// non-interactive sudo invocation. The service identity must hold the
// corresponding sudoers rule.
type SudoImpersonator struct{}

// Validate rejects unknown users and system accounts.
func (SudoImpersonator) Validate(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return models.WrapError(models.ErrInvalidInput, fmt.Sprintf("unknown user %q", username), err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return models.WrapError(models.ErrInternal, fmt.Sprintf("non-numeric uid for %q", username), err)
	}
	if uid < minImpersonationUID {
		return models.NewError(models.ErrAccessDenied,
			fmt.Sprintf("refusing to impersonate system account %q (uid %d)", username, uid))
	}
	return nil
}

// Command wraps argv in a sudo invocation for the target user.
func (SudoImpersonator) Command(username string, program string, args ...string) []string {
	argv := []string{"sudo", "-n", "-u", username, "--", program}
	return append(argv, args...)
}

// SelfImpersonator runs commands as the current process identity. Used in
// tests and single-user deployments without a sudoers rule.
type SelfImpersonator struct{}

func (SelfImpersonator) Validate(string) error {
	return nil
}

func (SelfImpersonator) Command(_ string, program string, args ...string) []string {
	return append([]string{program}, args...)
}
