package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggoodman/debugsession-go/debugger"
	"github.com/ggoodman/debugsession-go/future"
)

// run opens a client bounded by the command timeout and closes it after fn.
func (r *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, c *client, out io.Writer) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), r.timeout)
	defer cancel()
	out := cmd.OutOrStdout()
	c, err := r.open(ctx, out)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c, out)
}

// attached is run for commands that need a live session.
func (r *rootOptions) attached(cmd *cobra.Command, fn func(ctx context.Context, c *client, out io.Writer) error) error {
	return r.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
		if err := c.requireAttached(ctx); err != nil {
			return err
		}
		return fn(ctx, c, out)
	})
}

func parseAddress(args []string) (string, int, error) {
	host, portStr := "", ""
	switch len(args) {
	case 1:
		h, p, err := net.SplitHostPort(args[0])
		if err != nil {
			return "", 0, fmt.Errorf("address: %w", err)
		}
		host, portStr = h, p
	case 2:
		host, portStr = args[0], args[1]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}

// parseLocation reads TYPE:LINE with a 1-based line.
func parseLocation(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("location %q: want TYPE:LINE", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("location %q: invalid line", s)
	}
	return s[:i], line, nil
}

func newAttachCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attach HOST:PORT | HOST PORT",
		Short: "Attach to a debuggable VM",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := parseAddress(args)
			if err != nil {
				return err
			}
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				ok, err := c.restore(ctx)
				if err != nil {
					return err
				}
				if ok {
					info, _ := c.sess.Info()
					return fmt.Errorf("already attached to %s (session %s)", info.Address(), info.SessionID)
				}
				entries, err := c.ledger(ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if _, err := c.sess.AddBreakpoint(e.File, e.location()).Await(ctx); err != nil {
						return err
					}
				}
				if _, err := c.sess.Attach(host, port).Await(ctx); err != nil {
					return err
				}
				c.printer.waitActivated(ctx, len(entries))
				info, _ := c.sess.Info()
				fmt.Fprintf(out, "attached to %s session %s", info.Address(), info.SessionID)
				if info.VMName != "" {
					fmt.Fprintf(out, " (%s %s)", info.VMName, info.VMVersion)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func newDetachCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detach",
		Short: "Detach from the attached VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				ok, err := c.restore(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "not attached")
					return nil
				}
				if _, err := c.sess.Detach().Await(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "detached")
				return nil
			})
		},
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				if _, err := c.restore(ctx); err != nil {
					return err
				}
				info, ok := c.sess.Info()
				if !ok {
					fmt.Fprintln(out, "state: detached")
					return nil
				}
				fmt.Fprintf(out, "state: %s\nsession: %s\naddress: %s\n", c.sess.State(), info.SessionID, info.Address())
				if info.VMName != "" {
					fmt.Fprintf(out, "vm: %s %s\n", info.VMName, info.VMVersion)
				}
				return nil
			})
		},
	}
}

func newBreakCmd(root *rootOptions) *cobra.Command {
	breakCmd := &cobra.Command{
		Use:   "break",
		Short: "Breakpoint operations",
	}
	var file string

	add := &cobra.Command{
		Use:   "add TYPE:LINE",
		Short: "Set a breakpoint (staged until attach when detached)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, line, err := parseLocation(args[0])
			if err != nil {
				return err
			}
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				if _, err := c.restore(ctx); err != nil {
					return err
				}
				e := ledgerEntry{File: file, Type: typ, Line: line}
				bp, err := c.sess.AddBreakpoint(e.File, e.location()).Await(ctx)
				if err != nil {
					return err
				}
				entries, err := c.ledger(ctx)
				if err != nil {
					return err
				}
				if err := c.saveLedger(ctx, append(entries, e)); err != nil {
					return err
				}
				status := "staged"
				if bp.Active {
					status = "active"
				}
				fmt.Fprintf(out, "breakpoint %s %s\n", e, status)
				return nil
			})
		},
	}
	add.Flags().StringVar(&file, "file", "", "source file the breakpoint belongs to")

	rm := &cobra.Command{
		Use:   "rm TYPE:LINE",
		Short: "Remove breakpoints at a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, line, err := parseLocation(args[0])
			if err != nil {
				return err
			}
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				if _, err := c.restore(ctx); err != nil {
					return err
				}
				e := ledgerEntry{File: file, Type: typ, Line: line}
				if _, err := c.sess.DeleteBreakpoint(e.File, e.location()).Await(ctx); err != nil {
					return err
				}
				entries, err := c.ledger(ctx)
				if err != nil {
					return err
				}
				kept := entries[:0]
				for _, x := range entries {
					if x != e {
						kept = append(kept, x)
					}
				}
				if err := c.saveLedger(ctx, kept); err != nil {
					return err
				}
				fmt.Fprintf(out, "removed %d breakpoint(s) at %s\n", len(entries)-len(kept), e)
				return nil
			})
		},
	}
	rm.Flags().StringVar(&file, "file", "", "source file the breakpoint belongs to")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every breakpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				if _, err := c.restore(ctx); err != nil {
					return err
				}
				if _, err := c.sess.DeleteAllBreakpoints().Await(ctx); err != nil {
					return err
				}
				if err := c.saveLedger(ctx, nil); err != nil {
					return err
				}
				fmt.Fprintln(out, "breakpoints cleared")
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List breakpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				entries, err := c.ledger(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "no breakpoints")
				}
				for _, e := range entries {
					fmt.Fprintln(out, e)
				}
				return nil
			})
		},
	}

	breakCmd.AddCommand(add, rm, clearCmd, list)
	return breakCmd
}

func newStepCmd(root *rootOptions) *cobra.Command {
	stepCmd := &cobra.Command{
		Use:   "step",
		Short: "Step the suspended thread",
	}
	for _, s := range []struct {
		use, short string
		fn         func(*debugger.Session) *future.Future[struct{}]
	}{
		{"into", "Step into the next call", (*debugger.Session).StepInto},
		{"over", "Step over the next line", (*debugger.Session).StepOver},
		{"out", "Run until the current frame returns", (*debugger.Session).StepOut},
	} {
		stepCmd.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return root.attached(cmd, func(ctx context.Context, c *client, _ io.Writer) error {
					_, err := s.fn(c.sess).Await(ctx)
					return err
				})
			},
		})
	}
	return stepCmd
}

func newResumeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.attached(cmd, func(ctx context.Context, c *client, _ io.Writer) error {
				_, err := c.sess.Resume().Await(ctx)
				return err
			})
		},
	}
}

// printResult runs a text-returning operation and prints its result.
func printResult(root *rootOptions, cmd *cobra.Command, fn func(*debugger.Session) *future.Future[string]) error {
	return root.attached(cmd, func(ctx context.Context, c *client, out io.Writer) error {
		v, err := fn(c.sess).Await(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
		return nil
	})
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eval EXPRESSION...",
		Short: "Evaluate an expression in the current frame",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := strings.Join(args, " ")
			return printResult(root, cmd, func(s *debugger.Session) *future.Future[string] { return s.EvaluateExpression(expr) })
		},
	}
}

func newValueCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "value VARIABLE",
		Short: "Print a variable's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(root, cmd, func(s *debugger.Session) *future.Future[string] { return s.GetValue(args[0]) })
		},
	}
}

func newFrameCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "frame",
		Short: "Dump the current stack frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printResult(root, cmd, (*debugger.Session).GetStackFrameDump)
		},
	}
}

func newSetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set PATH VALUE",
		Short: "Assign a variable; PATH is dot separated (this.count)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.Split(args[0], ".")
			return root.attached(cmd, func(ctx context.Context, c *client, out io.Writer) error {
				if _, err := c.sess.ChangeVariableValue(path, args[1]).Await(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s = %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print stop events until interrupted or the VM goes away",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			c, err := root.open(ctx, out)
			if err != nil {
				return err
			}
			defer c.Close()

			rctx, cancel := context.WithTimeout(ctx, root.timeout)
			err = c.requireAttached(rctx)
			cancel()
			if err != nil {
				return err
			}
			info, _ := c.sess.Info()
			fmt.Fprintf(out, "watching session %s at %s\n", info.SessionID, info.Address())
			select {
			case <-c.printer.detached:
				fmt.Fprintln(out, "session ended")
			case <-ctx.Done():
			}
			return nil
		},
	}
}
