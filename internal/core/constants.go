package core

import "fmt"

const (
	IssuesLink        = "https://github.com/dorcha-inc/cyinstall/issues"
	BugReportTemplate = "\n\n[NOTE]This is most likely a bug in cyinstall, please open an issue at %s"
)

// BugReportMessage is appended to errors nobody anticipated
func BugReportMessage() string {
	return fmt.Sprintf(BugReportTemplate, IssuesLink)
}

const (
	GOOSDarwin  = "darwin"
	GOOSLinux   = "linux"
	GOOSWindows = "windows"
)

// ProductName is the name of the application binary this tool installs.
const ProductName = "Cypress"
