package conversation

import (
	"time"

	"offrecord/internal/domain"
)

// BaseHandler implements domain.Handler with no-op callbacks and the
// default policy. Embed it to override only what you need.
type BaseHandler struct{}

var _ domain.Handler = BaseHandler{}

func (BaseHandler) Policy(domain.Conversation) domain.Policy { return domain.PolicyDefault }

func (BaseHandler) CreatePrivateKey(string, string) {}

func (BaseHandler) LoggedIn(string, string, string) domain.LoggedInStatus {
	return domain.LoggedInNotSure
}

func (BaseHandler) InjectMessage(string, string, string, string) {}

func (BaseHandler) UpdateContextList() {}

func (BaseHandler) NewFingerprint(string, string, string, domain.Fingerprint) {}

func (BaseHandler) WriteFingerprints() {}

func (BaseHandler) GoneSecure(domain.Conversation) {}

func (BaseHandler) GoneInsecure(domain.Conversation) {}

func (BaseHandler) StillSecure(domain.Conversation, domain.Initiated) {}

func (BaseHandler) MaxMessageSize(domain.Conversation) int { return 0 }

func (BaseHandler) ErrorMessage(domain.Conversation, domain.ErrorCode) string { return "" }

func (BaseHandler) ResentMessagePrefix(domain.Conversation) string { return "" }

func (BaseHandler) HandleSMPEvent(domain.SMPEvent, domain.Conversation, int, string) {}

func (BaseHandler) HandleMessageEvent(domain.MessageEvent, domain.Conversation, string, error) {}

func (BaseHandler) TimerControl(time.Duration) {}
