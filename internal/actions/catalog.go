// Package actions implements the structured action protocol embedded in
// model output: parsing <discord-action> blocks, gating them by category
// flags, and dispatching them to subsystem handlers.
package actions

// Category groups action types for flag-based gating.
type Category string

const (
	CategoryChannels   Category = "channels"
	CategoryMessaging  Category = "messaging"
	CategoryGuild      Category = "guild"
	CategoryModeration Category = "moderation"
	CategoryPolls      Category = "polls"
	CategoryTasks      Category = "tasks"
	CategoryCrons      Category = "crons"
	CategoryBotProfile Category = "bot_profile"
	CategoryForge      Category = "forge"
	CategoryPlan       Category = "plan"
	CategoryMemory     Category = "memory"
	CategoryImagegen   Category = "imagegen"
	CategoryVoice      Category = "voice"
	CategoryConfig     Category = "config"
	CategoryDefer      Category = "defer"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryChannels, CategoryMessaging, CategoryGuild, CategoryModeration,
	CategoryPolls, CategoryTasks, CategoryCrons, CategoryBotProfile,
	CategoryForge, CategoryPlan, CategoryMemory, CategoryImagegen,
	CategoryVoice, CategoryConfig, CategoryDefer,
}

// catalog maps each action type to its category. Unknown types are
// stripped at parse time.
var catalog = map[string]Category{
	"sendMessage":    CategoryMessaging,
	"editMessage":    CategoryMessaging,
	"deleteMessage":  CategoryMessaging,
	"addReaction":    CategoryMessaging,
	"removeReaction": CategoryMessaging,
	"pinMessage":     CategoryMessaging,

	"createThread":      CategoryChannels,
	"createForumThread": CategoryChannels,
	"listForumThreads":  CategoryChannels,

	"guildInfo": CategoryGuild,

	"timeoutMember": CategoryModeration,
	"purgeMessages": CategoryModeration,

	"createPoll": CategoryPolls,

	"taskCreate": CategoryTasks,
	"taskList":   CategoryTasks,
	"taskUpdate": CategoryTasks,
	"taskClose":  CategoryTasks,

	"cronList": CategoryCrons,
	"cronRun":  CategoryCrons,

	"setStatus": CategoryBotProfile,

	"forgeRun":    CategoryForge,
	"forgeResume": CategoryForge,
	"forgeCancel": CategoryForge,

	"planPhases":  CategoryPlan,
	"planRun":     CategoryPlan,
	"planApprove": CategoryPlan,

	"memorySave":    CategoryMemory,
	"memorySearch":  CategoryMemory,
	"memoryArchive": CategoryMemory,

	"generateImage": CategoryImagegen,

	"voiceSay": CategoryVoice,

	"configGet": CategoryConfig,
	"configSet": CategoryConfig,

	"deferReply": CategoryDefer,
}

// CategoryOf returns the category for an action type.
func CategoryOf(actionType string) (Category, bool) {
	c, ok := catalog[actionType]
	return c, ok
}

// Flags holds the enabled categories for one invocation context.
type Flags map[Category]bool

// Enabled reports whether the category may execute.
func (f Flags) Enabled(c Category) bool {
	return f[c]
}

// WithoutCronRestricted returns a copy with the categories that cron
// jobs must not use disabled.
func (f Flags) WithoutCronRestricted() Flags {
	out := make(Flags, len(f))
	for c, v := range f {
		out[c] = v
	}
	out[CategoryCrons] = false
	out[CategoryMemory] = false
	out[CategoryConfig] = false
	return out
}

// AllFlags returns a flag set with every category enabled.
func AllFlags() Flags {
	f := make(Flags, len(Categories))
	for _, c := range Categories {
		f[c] = true
	}
	return f
}
