// Package ui implements the download monitor, an interactive terminal interface using bubbletea's Elm architecture.
//
// The monitor has two views, switched with tab:
//  1. [DownloadsView] : every job with a live progress bar; c cancels, r retries
//  2. [LibraryView] : the offline catalog; d removes a track after confirmation, v runs the integrity sweep
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Job and catalog changes arrive as coordinator events through a subscription channel, so the screen follows
// downloads started by any client.
//
// Keyboard navigation uses vim-style bindings (j/k, tab, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
