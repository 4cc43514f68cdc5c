package cache

import "fmt"

// Key layout mirrors spec §4.2 (semantic, not literal) and is grounded on
// cache_chat_mixin.py's key builders (e.g. _get_user_chat_ids_versions_key,
// _get_chat_versions_key).

func chatIDsVersionsKey(userID string) string {
	return fmt.Sprintf("user:%s:chat_ids_versions", userID)
}

func chatVersionsKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s:versions", userID, chatID)
}

func listItemDataKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s:list_item_data", userID, chatID)
}

func userDraftKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s:draft", userID, chatID)
}

// aiMessagesKey returns the vault-encrypted AI-inference context list key.
// This is deliberately distinct from syncMessagesKey: spec §9 / Open
// Question 3 calls for forbidding the deprecated single accessor that
// conflated the two. There is no shared helper here on purpose.
func aiMessagesKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s:messages:ai", userID, chatID)
}

// syncMessagesKey returns the client-encrypted phased-sync replay list key.
func syncMessagesKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s:messages:sync", userID, chatID)
}

func aiCacheLRUKey(userID string) string {
	return fmt.Sprintf("user:%s:ai_cache_lru", userID)
}

func activeAITaskKey(chatID string) string {
	return fmt.Sprintf("chat:%s:active_ai_task", chatID)
}

func activeTaskChatKey(taskID string) string {
	return fmt.Sprintf("active_task:%s:chat_id", taskID)
}

func messageQueueKey(chatID string) string {
	return fmt.Sprintf("chat:%s:message_queue", chatID)
}

func embedIDsKey(chatID string) string {
	return fmt.Sprintf("chat:%s:embed_ids", chatID)
}

func embedKey(embedID string) string {
	return fmt.Sprintf("embed:%s", embedID)
}

func appSettingsMemoryKey(chatID, appID, itemKey string) string {
	return fmt.Sprintf("chat:%s:app_settings_memories:%s:%s", chatID, appID, itemKey)
}

func appSettingsMemoryIndexKey(chatID string) string {
	return fmt.Sprintf("chat:%s:app_settings_memories:index", chatID)
}

func pendingAppSettingsRequestKey(chatID string) string {
	return fmt.Sprintf("pending_app_settings_memories_request:%s", chatID)
}

func newChatSuggestionsKey(userIDHash string) string {
	return fmt.Sprintf("user:%s:new_chat_suggestions", userIDHash)
}

// ChatKey returns a generic cache key for a chat, for tasks/references that
// only need to name the entity (mirrors cache_chat_mixin.py's get_chat_key).
func ChatKey(chatID string) string {
	return fmt.Sprintf("chat:%s", chatID)
}
