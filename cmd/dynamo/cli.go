package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"dynamo/internal/gateway"
)

var errUsage = errors.New(`usage: dynamo -cli -target host:port <command> [args...]

commands:
  create-bucket <bucket>
  delete-bucket <bucket>
  put <bucket> <key> <value>
  update <bucket> <key> <value>
  get <bucket> <key>
  delete <bucket> <key>
  members
  route <key>
  health`)

// arity is the number of arguments each command takes.
var arity = map[string]int{
	"create-bucket": 1,
	"delete-bucket": 1,
	"put":           3,
	"update":        3,
	"get":           2,
	"delete":        2,
	"members":       0,
	"route":         1,
	"health":        0,
}

func checkArgs(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	n, ok := arity[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
	if len(args)-1 != n {
		return fmt.Errorf("%s takes %d argument(s), got %d", args[0], n, len(args)-1)
	}
	return nil
}

func runCLI(ctx context.Context, target string, args []string, out io.Writer) error {
	if err := checkArgs(args); err != nil {
		return err
	}

	c, err := gateway.NewClient(target)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer c.Close()

	var resp *gateway.Response
	switch args[0] {
	case "create-bucket":
		resp, err = c.CreateBucket(ctx, args[1])
	case "delete-bucket":
		resp, err = c.DeleteBucket(ctx, args[1])
	case "put":
		resp, err = c.Put(ctx, args[1], args[2], args[3])
	case "update":
		resp, err = c.Update(ctx, args[1], args[2], args[3])
	case "get":
		resp, err = c.Get(ctx, args[1], args[2])
	case "delete":
		resp, err = c.Delete(ctx, args[1], args[2])
	case "members":
		m, err := c.Membership(ctx)
		if err != nil {
			return err
		}
		printMembers(out, m)
		return nil
	case "route":
		r, err := c.Route(ctx, args[1])
		if err != nil {
			return err
		}
		for i, rep := range r.Replicas {
			fmt.Fprintf(out, "%d) %s %s\n", i+1, rep.Name, rep.Address)
		}
		return nil
	case "health":
		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s alive=%d dead=%d storage=%d uptime=%.0fs\n",
			h.Node, h.Status, h.Alive, h.Dead, h.StorageNodes, h.UptimeSeconds)
		return nil
	}
	if err != nil {
		return err
	}
	printResponse(out, resp)
	return nil
}

func printResponse(out io.Writer, resp *gateway.Response) {
	status := "OK"
	if !resp.Status {
		status = "FAILED"
	}
	fmt.Fprintf(out, "%s [%s] %s\n", status, resp.Node, resp.Response)
	for _, o := range resp.Objects {
		fmt.Fprintf(out, "  v%d %s\n", o.Version, o.Value)
	}
}

func printMembers(out io.Writer, m *gateway.MembershipResponse) {
	line := func(state string, mem gateway.Member) {
		role := "storage"
		if mem.Gateway {
			role = "gateway"
		}
		fmt.Fprintf(out, "%-5s %-16s %-22s %-7s hb=%d\n", state, mem.Name, mem.Address, role, mem.Heartbeat)
	}
	line("self", m.Self)
	for _, mem := range m.Alive {
		line("alive", mem)
	}
	for _, mem := range m.Dead {
		line("dead", mem)
	}
}
