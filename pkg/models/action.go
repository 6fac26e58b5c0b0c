package models

// ActionName is a member of the closed set of tag names the Action Parser recognizes. The set
// is closed at build time: an unrecognized tag name is simply not an action.
type ActionName string

const (
	ActionExecute            ActionName = "execute"
	ActionSearch             ActionName = "search"
	ActionGetFileMap         ActionName = "get_file_map"
	ActionLint               ActionName = "lint"
	ActionMemorySearch       ActionName = "memory_search"
	ActionAddDeclarativeNote ActionName = "add_declarative_note"
	ActionAddSummaryNote     ActionName = "add_summary_note"
	ActionEnhancedRead       ActionName = "enhanced_read"
	ActionEnhancedWrite      ActionName = "enhanced_write"
	ActionFindFilesEnhanced  ActionName = "find_files_enhanced"
	ActionBrowserNavigate    ActionName = "browser_navigate"
	ActionDelegate           ActionName = "delegate"
	ActionSpawnSubAgent      ActionName = "spawn_sub_agent"
	ActionStopSubAgent       ActionName = "stop_sub_agent"
	ActionResumeSubAgent     ActionName = "resume_sub_agent"

	ActionTaskCreate      ActionName = "task_create"
	ActionTaskUpdate      ActionName = "task_update"
	ActionTaskComplete    ActionName = "task_complete"
	ActionTaskList        ActionName = "task_list"
	ActionTaskDetails     ActionName = "task_details"
	ActionProjectCreate   ActionName = "project_create"
	ActionProjectUpdate   ActionName = "project_update"
	ActionProjectComplete ActionName = "project_complete"
	ActionProjectList     ActionName = "project_list"
	ActionProjectDetails  ActionName = "project_details"
	ActionSubtaskAdd      ActionName = "subtask_add"
)

// KnownActionNames is the closed set of tag names the parser will recognize. Registered in a
// slice (rather than only as constants) so the parser's acceptance check and any tool
// registration-time validation can iterate it.
var KnownActionNames = []ActionName{
	ActionExecute, ActionSearch, ActionGetFileMap, ActionLint, ActionMemorySearch,
	ActionAddDeclarativeNote, ActionAddSummaryNote, ActionEnhancedRead, ActionEnhancedWrite,
	ActionFindFilesEnhanced, ActionBrowserNavigate, ActionDelegate, ActionSpawnSubAgent,
	ActionStopSubAgent, ActionResumeSubAgent,
	ActionTaskCreate, ActionTaskUpdate, ActionTaskComplete, ActionTaskList, ActionTaskDetails,
	ActionProjectCreate, ActionProjectUpdate, ActionProjectComplete, ActionProjectList,
	ActionProjectDetails, ActionSubtaskAdd,
}

// Action is one parsed `<name>payload</name>` occurrence from model output.
type Action struct {
	Name    ActionName `json:"name"`
	Payload string     `json:"payload"`
}
