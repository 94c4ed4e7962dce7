package convo

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"category:3", Command{Kind: CmdCategory, ID: 3}, true},
		{"course:12", Command{Kind: CmdCourse, ID: 12}, true},
		{"buy:7", Command{Kind: CmdBuy, ID: 7}, true},
		{"delcat:2", Command{Kind: CmdDeleteCategory, ID: 2}, true},
		{"delcourse:9", Command{Kind: CmdDeleteCourse, ID: 9}, true},
		{"editcourse:4", Command{Kind: CmdEditCourse, ID: 4}, true},
		{"editcat:4", Command{Kind: CmdEditCategory, ID: 4}, true},
		{"togglecat:2", Command{Kind: CmdToggleCategory, ID: 2}, true},
		{"admin_course:1", Command{Kind: CmdAdminCourse, ID: 1}, true},
		{"admin_add_course", Command{Kind: CmdAddCourse}, true},
		{"admin_add_category", Command{Kind: CmdAddCategory}, true},
		{"editfield:price", Command{Kind: CmdEditField, Extra: "price"}, true},
		{"category:abc", Command{}, false},
		{"category:-1", Command{}, false},
		{"category:", Command{}, false},
		{"unknown:5", Command{}, false},
		{"hello there", Command{}, false},
		{"", Command{}, false},
	}
	for _, c := range cases {
		got, ok := ParseCommand(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseCommand(%q) = %+v, %v; want %+v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestCommandDataRoundTrip(t *testing.T) {
	kinds := []struct {
		kind CommandKind
		id   int64
	}{
		{CmdCategory, 3},
		{CmdCourse, 5},
		{CmdBuy, 1},
		{CmdAdminCourse, 2},
		{CmdEditCourse, 7},
		{CmdEditCategory, 8},
		{CmdToggleCategory, 9},
		{CmdDeleteCourse, 4},
		{CmdDeleteCategory, 6},
		{CmdAddCourse, 0},
		{CmdAddCategory, 0},
		{CmdAdminCourses, 0},
		{CmdAdminCategories, 0},
	}
	for _, k := range kinds {
		data := CommandData(k.kind, k.id)
		if data == "" {
			t.Fatalf("no data rendering for kind %d", k.kind)
		}
		got, ok := ParseCommand(data)
		if !ok || got.Kind != k.kind || got.ID != k.id {
			t.Errorf("round trip kind %d id %d via %q failed: %+v ok=%v", k.kind, k.id, data, got, ok)
		}
	}
}
