package terminal

import (
	"github.com/vmagent/vmagent/pkg/terminal/starbind"
	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service/agent"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Agent() *agent.Agent {
	return ctx.term.agent
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) CurrentThread() vm.ThreadID {
	return ctx.term.cmds.thread
}
