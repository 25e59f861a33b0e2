package app

import (
	"os"
	"strings"

	"todobook/internal/config"
)

const defaultUserID = "local-user"

// ResolveUserAndConfig loads the workspace config and decides which user the
// CLI acts as. The override wins, then TODOBOOK_USER_ID, then a local
// default suitable for single-user workspaces.
func ResolveUserAndConfig(workspace, userOverride string) (string, *config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return "", nil, err
	}
	userID := strings.TrimSpace(userOverride)
	if userID == "" {
		userID = strings.TrimSpace(os.Getenv("TODOBOOK_USER_ID"))
	}
	if userID == "" {
		userID = defaultUserID
	}
	return userID, cfg, nil
}
