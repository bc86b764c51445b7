package installer

import (
	"github.com/dorcha-inc/cyinstall/internal/state"
)

// Action is what an install run does once the recorded state is known
type Action int

const (
	// ActionSkip leaves a matching installation alone
	ActionSkip Action = iota
	// ActionRegisterLocal records a local path as the installation
	ActionRegisterLocal
	// ActionAdoptCached records an already extracted cache directory
	ActionAdoptCached
	// ActionDownload fetches and extracts the archive
	ActionDownload
	// ActionDisabled means binary installation is switched off by configuration
	ActionDisabled
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRegisterLocal:
		return "register-local"
	case ActionAdoptCached:
		return "adopt-cached"
	case ActionDownload:
		return "download"
	case ActionDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Plan decides how to bring the installation to target.
//
// The install record is the source of truth: a record for target means the
// installation is current unless force is set. Without a matching record a
// local path wins, then a completed cache directory (cached), then a download.
// Force always ends in a download unless target is a local path.
func Plan(record state.InstallRecord, cached bool, target string, force bool, localPath string) Action {
	switch {
	case !force && record.Status(target) == state.InstallCurrent:
		return ActionSkip
	case localPath != "":
		return ActionRegisterLocal
	case cached && !force:
		return ActionAdoptCached
	default:
		return ActionDownload
	}
}
