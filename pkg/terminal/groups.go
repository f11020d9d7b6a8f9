package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	dataCmds
	threadCmds
	vmCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Manipulating breakpoints", breakCmds},
	{"Viewing and changing local variables", dataCmds},
	{"Listing threads and their call stacks", threadCmds},
	{"Classes, compiled code and events", vmCmds},
	{"Other commands", otherCmds},
}
