package notification

import (
	"context"
	"fmt"
	"net/mail"

	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// Confirmation builds the e-mail a student gets once attendance is recorded.
func Confirmation(evt queue.AttendanceMarked) Email {
	class := evt.ClassName
	if evt.CourseCode != "" {
		class += " (" + evt.CourseCode + ")"
	}
	when := evt.MarkedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	return Email{
		To:      mail.Address{Name: evt.StudentName, Address: evt.StudentEmail},
		Subject: "Attendance recorded: " + class,
		Text:    fmt.Sprintf("Hi %s,\n\nYour attendance for %s was recorded as %s at %s.\n", evt.StudentName, class, evt.Status, when),
	}
}

// Dispatch mails a confirmation for every attendance message until messages
// closes. Failures are logged and counted; the loop keeps going.
func Dispatch(ctx context.Context, messages <-chan queue.Message, mailer Mailer, logger *logging.Logger) {
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceMarked {
			logger.Warnf("skipping message of unknown type %q", msg.Type)
			continue
		}
		var evt queue.AttendanceMarked
		if err := msg.Decode(&evt); err != nil {
			logger.Error("decode attendance event", err, nil)
			continue
		}
		if evt.StudentEmail == "" {
			continue
		}
		if err := mailer.Send(ctx, Confirmation(evt)); err != nil {
			metrics.EmailsSent.WithLabelValues("failed").Inc()
			logger.Error("send confirmation", err, map[string]any{"record": evt.RecordID})
			continue
		}
		metrics.EmailsSent.WithLabelValues("sent").Inc()
	}
}
