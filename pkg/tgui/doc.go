// Package tgui provides small Telegram UI helpers:
//   - Reply and inline keyboard builders
//   - Callback data helpers (scope:action:payload)
//   - A message builder that escapes text for ParseMode="HTML"
package tgui
