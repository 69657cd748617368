// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

// Package plugins provides the plugin registry and hook dispatcher.
//
// A Plugin only has to report its name. Every lifecycle hook is a separate
// optional interface (PageCreatedHook, BeforeNavigationHook, ErrorHook, ...),
// so a plugin implements exactly the subset it needs and Manager dispatches
// with a type switch instead of looking hooks up by name.
//
// Hooks run sequentially in registration order. A failing hook is logged,
// reported on the event bus and forwarded to the same plugin's ErrorHook;
// it never stops the remaining plugins from running.
//
// Usage:
//
//	mgr := plugins.NewManager(bus, logger)
//	if err := mgr.RegisterPlugin(ctx, builtin.NewSessionPlugin(...), nil); err != nil {
//		return err
//	}
//	defer mgr.ClearAllPlugins(ctx)
package plugins
