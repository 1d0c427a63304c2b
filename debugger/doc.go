// Package debugger is a client for a remote debug backend. A Session attaches
// to a running process through a transport.Transport, keeps the breakpoint
// set in step with the backend, drives stepping and evaluation, and turns
// the backend's event channel into observer callbacks.
//
// All session state is owned by a single internal goroutine. Operations
// return futures immediately; observers are always called from that
// goroutine, one at a time, in event order.
//
// A minimal client:
//
//	sess := debugger.New(tr,
//		debugger.WithStore(fileStore),
//		debugger.WithResolver(resolver.NewSourceRoots("/src/main/java")),
//		debugger.WithFileOpener(editor),
//	)
//	defer sess.Close()
//
//	if ok, _ := sess.Restore().Await(ctx); !ok {
//		if _, err := sess.Attach("localhost", 8000).Await(ctx); err != nil {
//			return err
//		}
//	}
//	sess.AddBreakpoint("/src/main/java/com/acme/Main.java", debugger.Location{TypeIdentifier: "com.acme.Main", Line: 41})
package debugger
