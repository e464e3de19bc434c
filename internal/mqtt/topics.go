package mqtt

import "fmt"

func TopicUserMessages(prefix string) string {
	return fmt.Sprintf("%s/user/+/message", prefix)
}

func TopicUserDecisions(prefix string) string {
	return fmt.Sprintf("%s/user/+/decision", prefix)
}

func TopicMessage(prefix, userID string) string {
	return fmt.Sprintf("%s/user/%s/message", prefix, userID)
}

func TopicDecision(prefix, userID string) string {
	return fmt.Sprintf("%s/user/%s/decision", prefix, userID)
}

func TopicReply(prefix, userID string) string {
	return fmt.Sprintf("%s/user/%s/reply", prefix, userID)
}
