package vpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/objfsprojfs/objfsprojfs/pkg/vpath"
)

func TestCanon(t *testing.T) {
	cases := map[string]string{
		`invites\iom_invite.txt`: "/invites/iom_invite.txt",
		`\invites\\iom.txt`:      "/invites/iom.txt",
		``:                      "/",
		`/`:                     "/",
		`objects/abc/`:          "/objects/abc",
		`C:\objects\abc`:        "/objects/abc",
	}
	for in, want := range cases {
		assert.Equal(t, want, vpath.Canon(in), "input %q", in)
	}
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, "/", vpath.Parent("/invites"))
	assert.Equal(t, "/invites", vpath.Parent("/invites/iom.txt"))
	assert.Equal(t, "/", vpath.Parent("/"))

	assert.Equal(t, "invites", vpath.Base("/invites"))
	assert.Equal(t, "iom.txt", vpath.Base("/invites/iom.txt"))
	assert.Equal(t, "", vpath.Base("/"))
}

func TestSegmentsAndTopLevel(t *testing.T) {
	assert.Nil(t, vpath.Segments("/"))
	assert.Equal(t, []string{"objects", "abc"}, vpath.Segments("/objects/abc"))

	assert.True(t, vpath.IsTopLevel("/objects"))
	assert.False(t, vpath.IsTopLevel("/"))
	assert.False(t, vpath.IsTopLevel("/objects/abc"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/invites", vpath.Join("/", "invites"))
	assert.Equal(t, "/invites/iom.txt", vpath.Join("/invites", "iom.txt"))
}
