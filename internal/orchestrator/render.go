package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"calbot/internal/domain"
	"calbot/internal/intent"
)

type message string

const (
	msgCreated         message = "created"
	msgTaskCreated     message = "task_created"
	msgUpdated         message = "updated"
	msgDeleted         message = "deleted"
	msgNoEvents        message = "no_events"
	msgEvents          message = "events"
	msgNoSlots         message = "no_slots"
	msgSlots           message = "slots"
	msgConfirm         message = "confirm"
	msgConfirmOpen     message = "confirm_open"
	msgReport          message = "report"
	msgCancelled       message = "cancelled"
	msgCalendarError   message = "calendar_error"
	msgNothingToDo     message = "nothing_to_do"
	msgRecurring       message = "recurring"
	msgByCriteria      message = "by_criteria"
	msgDuplicates      message = "duplicates"
	msgBatch           message = "batch"
	msgTokenExpired    message = "token_expired"
	msgNoPending       message = "no_pending"
	msgAlreadyExecuted message = "already_executed"
)

var catalog = map[string]map[message]string{
	"en": {
		msgCreated:         "Created %q on %s.",
		msgTaskCreated:     "Added task %q.",
		msgUpdated:         "Event updated.",
		msgDeleted:         "Event deleted.",
		msgNoEvents:        "No events in that period.",
		msgEvents:          "Your events:",
		msgNoSlots:         "No free slots of %d minutes found.",
		msgSlots:           "Free slots:",
		msgConfirm:         "%s (%d operations). Confirm to apply or cancel.",
		msgConfirmOpen:     "%s. Confirm to apply or cancel.",
		msgReport:          "Done: %d succeeded, %d failed.",
		msgCancelled:       "Cancelled.",
		msgCalendarError:   "The calendar did not accept the change. Please try again later.",
		msgNothingToDo:     "Nothing matched, so there is nothing to change.",
		msgRecurring:       "Create %d × %q",
		msgByCriteria:      "Delete events whose title contains %q",
		msgDuplicates:      "Delete duplicate events",
		msgBatch:           "%d actions",
		msgTokenExpired:    "This confirmation has expired. Please repeat the request.",
		msgNoPending:       "There is nothing waiting for confirmation.",
		msgAlreadyExecuted: "This batch was already applied.",
	},
	"ru": {
		msgCreated:         "Создано событие «%s» на %s.",
		msgTaskCreated:     "Добавлена задача «%s».",
		msgUpdated:         "Событие обновлено.",
		msgDeleted:         "Событие удалено.",
		msgNoEvents:        "В этот период событий нет.",
		msgEvents:          "Ваши события:",
		msgNoSlots:         "Свободных окон по %d минут не найдено.",
		msgSlots:           "Свободные окна:",
		msgConfirm:         "%s (операций: %d). Подтвердите или отмените.",
		msgConfirmOpen:     "%s. Подтвердите или отмените.",
		msgReport:          "Готово: успешно %d, с ошибкой %d.",
		msgCancelled:       "Отменено.",
		msgCalendarError:   "Календарь не принял изменение. Попробуйте позже.",
		msgNothingToDo:     "Ничего не найдено, менять нечего.",
		msgRecurring:       "Создать %d × «%s»",
		msgByCriteria:      "Удалить события, в названии которых есть «%s»",
		msgDuplicates:      "Удалить дубликаты событий",
		msgBatch:           "Действий: %d",
		msgTokenExpired:    "Срок подтверждения истёк. Повторите запрос.",
		msgNoPending:       "Нет действий, ожидающих подтверждения.",
		msgAlreadyExecuted: "Эти изменения уже применены.",
	},
}

func phrase(lang string, key message, args ...any) string {
	table, ok := catalog[intent.BaseLanguage(lang)]
	if !ok {
		table = catalog["en"]
	}
	format := table[key]
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func formatWhen(lang string, t time.Time) string {
	if intent.BaseLanguage(lang) == "ru" {
		return t.Format("02.01.2006 15:04")
	}
	return t.Format("Mon Jan 2 15:04")
}

func formatSpan(lang string, start, end time.Time) string {
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return formatWhen(lang, start) + "–" + end.Format("15:04")
	}
	return formatWhen(lang, start) + " – " + formatWhen(lang, end)
}

func renderEvents(lang string, events []domain.EventRef, loc *time.Location) string {
	if len(events) == 0 {
		return phrase(lang, msgNoEvents)
	}
	var sb strings.Builder
	sb.WriteString(phrase(lang, msgEvents))
	for _, ev := range events {
		sb.WriteString("\n- ")
		sb.WriteString(formatSpan(lang, ev.Start.In(loc), ev.End.In(loc)))
		sb.WriteString(" ")
		sb.WriteString(ev.Title)
		if ev.Location != "" {
			sb.WriteString(" @ ")
			sb.WriteString(ev.Location)
		}
	}
	return sb.String()
}

func renderSlots(lang string, slots []domain.TimeRange, duration time.Duration, loc *time.Location) string {
	if len(slots) == 0 {
		return phrase(lang, msgNoSlots, int(duration.Minutes()))
	}
	var sb strings.Builder
	sb.WriteString(phrase(lang, msgSlots))
	for _, s := range slots {
		sb.WriteString("\n- ")
		sb.WriteString(formatSpan(lang, s.Start.In(loc), s.End.In(loc)))
	}
	return sb.String()
}

// renderConfirmation lists what the batch will do when it is known up front.
func renderConfirmation(lang, summary string, ops []domain.Operation) string {
	if len(ops) == 0 {
		return phrase(lang, msgConfirmOpen, summary)
	}
	var sb strings.Builder
	sb.WriteString(phrase(lang, msgConfirm, summary, len(ops)))
	for _, op := range ops {
		sb.WriteString("\n- ")
		sb.WriteString(op.Description)
	}
	return sb.String()
}

func renderReport(lang string, report domain.ExecutionReport) string {
	var sb strings.Builder
	sb.WriteString(phrase(lang, msgReport, report.Succeeded, report.Failed))
	for _, e := range report.Entries {
		if e.Status != domain.OutcomeFailed {
			continue
		}
		sb.WriteString("\n- ")
		sb.WriteString(e.Operation.Description)
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	return sb.String()
}
