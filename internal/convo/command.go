package convo

import (
	"strconv"
	"strings"
)

// CommandKind enumerates every structured command the bot understands.
// Commands are parsed once at the boundary and routed through a fixed table,
// never by ad hoc prefix checks in handlers.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdCategory
	CmdCourse
	CmdBuy
	CmdAdminCourse
	CmdAddCategory
	CmdAddCourse
	CmdEditCourse
	CmdEditCategory
	CmdToggleCategory
	CmdEditField
	CmdDeleteCourse
	CmdDeleteCategory
	CmdAdminCourses
	CmdAdminCategories
)

// Command is a parsed callback command: a kind plus an optional id and extra
// argument (e.g. the field name for CmdEditField).
type Command struct {
	Kind  CommandKind
	ID    int64
	Extra string
}

// prefix → kind for commands carrying a numeric id.
var idCommands = map[string]CommandKind{
	"category":     CmdCategory,
	"course":       CmdCourse,
	"buy":          CmdBuy,
	"admin_course": CmdAdminCourse,
	"editcourse":   CmdEditCourse,
	"editcat":      CmdEditCategory,
	"togglecat":    CmdToggleCategory,
	"delcourse":    CmdDeleteCourse,
	"delcat":       CmdDeleteCategory,
}

// bare commands without arguments.
var bareCommands = map[string]CommandKind{
	"admin_add_category": CmdAddCategory,
	"admin_add_course":   CmdAddCourse,
	"admin_courses":      CmdAdminCourses,
	"admin_categories":   CmdAdminCategories,
}

// ParseCommand parses a callback data string such as "category:3",
// "editfield:price" or "admin_add_course". Returns ok=false for anything
// that is not a well-formed command.
func ParseCommand(data string) (Command, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return Command{}, false
	}

	if kind, ok := bareCommands[data]; ok {
		return Command{Kind: kind}, true
	}

	head, rest, found := strings.Cut(data, ":")
	if !found {
		return Command{}, false
	}

	if head == "editfield" {
		field := strings.TrimSpace(rest)
		if field == "" {
			return Command{}, false
		}
		return Command{Kind: CmdEditField, Extra: field}, true
	}

	kind, ok := idCommands[head]
	if !ok {
		return Command{}, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || id <= 0 {
		return Command{}, false
	}
	return Command{Kind: kind, ID: id}, true
}

// CommandData renders a command back to its callback data string, used when
// building menus so option ids round-trip through ParseCommand.
func CommandData(kind CommandKind, id int64) string {
	for prefix, k := range idCommands {
		if k == kind {
			return prefix + ":" + strconv.FormatInt(id, 10)
		}
	}
	for data, k := range bareCommands {
		if k == kind {
			return data
		}
	}
	return ""
}
