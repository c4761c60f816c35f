// Package rejection declares the closed catalog of rejection reasons. Each
// reason pairs a technical description with user-facing guidance so the
// notification layer never has to re-derive wording.
package rejection

// Code identifies a single rejection reason.
type Code string

// Category groups reasons for reporting and for dominant-signal selection.
type Category string

const (
	CategoryQuality   Category = "content_quality"
	CategorySpam      Category = "spam"
	CategoryDuplicate Category = "duplicate"
	CategoryPolicy    Category = "policy_violation"
	CategoryTrust     Category = "sender_trust"
	CategoryTechnical Category = "technical"
	CategorySecurity  Category = "security"
	CategoryBusiness  Category = "business_rule"
)

const (
	// Content quality.
	AudioTooShort           Code = "AUDIO_TOO_SHORT"
	AudioTooLong            Code = "AUDIO_TOO_LONG"
	LowAudioQuality         Code = "LOW_AUDIO_QUALITY"
	NoSpeechDetected        Code = "NO_SPEECH_DETECTED"
	UnintelligibleSpeech    Code = "UNINTELLIGIBLE_SPEECH"
	LowConfidenceTranscript Code = "LOW_CONFIDENCE_TRANSCRIPT"

	// Spam.
	SpamContent        Code = "SPAM_CONTENT"
	PromotionalContent Code = "PROMOTIONAL_CONTENT"
	RepeatedMessage    Code = "REPEATED_MESSAGE"
	BulkSenderPattern  Code = "BULK_SENDER_PATTERN"

	// Duplicate.
	ExactDuplicate Code = "EXACT_DUPLICATE"
	NearDuplicate  Code = "NEAR_DUPLICATE"

	// Policy violation.
	InappropriateContent Code = "INAPPROPRIATE_CONTENT"
	Harassment           Code = "HARASSMENT"
	ExcessiveProfanity   Code = "EXCESSIVE_PROFANITY"
	SyntheticVoice       Code = "SYNTHETIC_VOICE"

	// Sender trust.
	SenderBlacklisted  Code = "SENDER_BLACKLISTED"
	UntrustedNewSender Code = "UNTRUSTED_NEW_SENDER"
	SenderDomainBlock  Code = "SENDER_DOMAIN_BLOCKED"

	// Technical.
	FileCorrupted     Code = "FILE_CORRUPTED"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	FileTooLarge      Code = "FILE_TOO_LARGE"
	FileTooSmall      Code = "FILE_TOO_SMALL"
	TechnicalError    Code = "TECHNICAL_ERROR"
	ProcessingError   Code = "PROCESSING_ERROR"

	// Security.
	MalwareDetected   Code = "MALWARE_DETECTED"
	SuspiciousPayload Code = "SUSPICIOUS_PAYLOAD"

	// Business rule.
	SubscriptionExpired Code = "SUBSCRIPTION_EXPIRED"
	UsageLimitExceeded  Code = "USAGE_LIMIT_EXCEEDED"
)

// Reason carries the declarative data attached to a code.
type Reason struct {
	Code        Code
	Category    Category
	Description string
	Guidance    string
}

var catalog = map[Code]Reason{
	AudioTooShort: {AudioTooShort, CategoryQuality,
		"audio duration below the 2 second minimum",
		"Your message was too short to process. Please record at least a few seconds of audio."},
	AudioTooLong: {AudioTooLong, CategoryQuality,
		"audio duration above the 10 minute maximum",
		"Your message exceeded the maximum length. Please keep messages under 10 minutes."},
	LowAudioQuality: {LowAudioQuality, CategoryQuality,
		"audio quality too poor for reliable transcription",
		"We could not hear your message clearly. Please re-record in a quieter environment."},
	NoSpeechDetected: {NoSpeechDetected, CategoryQuality,
		"no speech found in the recording",
		"We did not detect any speech in your recording. Please try again."},
	UnintelligibleSpeech: {UnintelligibleSpeech, CategoryQuality,
		"transcript classified as gibberish",
		"We could not make out the words in your message. Please speak clearly and try again."},
	LowConfidenceTranscript: {LowConfidenceTranscript, CategoryQuality,
		"transcription confidence below the acceptance threshold",
		"We were not confident enough in the transcription. Please re-record your message."},

	SpamContent: {SpamContent, CategorySpam,
		"content classified as spam",
		"Your message was flagged as spam and was not delivered."},
	PromotionalContent: {PromotionalContent, CategorySpam,
		"unsolicited promotional content",
		"Promotional messages are not accepted by this recipient."},
	RepeatedMessage: {RepeatedMessage, CategorySpam,
		"same message submitted repeatedly within the rate window",
		"You have already sent this message recently. Please wait before sending it again."},
	BulkSenderPattern: {BulkSenderPattern, CategorySpam,
		"sender volume consistent with bulk sending",
		"Too many messages were sent in a short period. Please slow down and try again later."},

	ExactDuplicate: {ExactDuplicate, CategoryDuplicate,
		"identical payload already received from this sender",
		"This exact message was already delivered. Duplicates are not processed."},
	NearDuplicate: {NearDuplicate, CategoryDuplicate,
		"payload nearly identical to a recent submission from this sender",
		"A very similar message from you was already delivered recently."},

	InappropriateContent: {InappropriateContent, CategoryPolicy,
		"content violates the acceptable use policy",
		"Your message was rejected because it violates the recipient's content policy."},
	Harassment: {Harassment, CategoryPolicy,
		"content classified as harassment or threats",
		"Your message was rejected for containing harassing or threatening content."},
	ExcessiveProfanity: {ExcessiveProfanity, CategoryPolicy,
		"profanity level above the recipient's tolerance",
		"Your message contained too much profanity for this recipient."},
	SyntheticVoice: {SyntheticVoice, CategoryPolicy,
		"voice classified as automated or synthetic",
		"Automated or synthetic voice messages are not accepted."},

	SenderBlacklisted: {SenderBlacklisted, CategoryTrust,
		"sender address is blacklisted by the recipient",
		"The recipient is not accepting messages from your address."},
	UntrustedNewSender: {UntrustedNewSender, CategoryTrust,
		"unverified sender where verification is required",
		"The recipient only accepts messages from verified senders. Please verify your address first."},
	SenderDomainBlock: {SenderDomainBlock, CategoryTrust,
		"sender domain is blocked",
		"Messages from your email domain are not accepted."},

	FileCorrupted: {FileCorrupted, CategoryTechnical,
		"payload failed audio container validation",
		"The audio file appears to be corrupted. Please re-record and send again."},
	UnsupportedFormat: {UnsupportedFormat, CategoryTechnical,
		"content type outside the supported audio formats",
		"This audio format is not supported. Please send MP3, WAV, OGG, or M4A."},
	FileTooLarge: {FileTooLarge, CategoryTechnical,
		"payload larger than the 50MB limit",
		"Your file is too large. Please send files under 50MB."},
	FileTooSmall: {FileTooSmall, CategoryTechnical,
		"payload smaller than the 1KB minimum",
		"Your file appears to be empty or truncated. Please re-send it."},
	TechnicalError: {TechnicalError, CategoryTechnical,
		"unrecoverable error in payload metadata",
		"Something went wrong processing your message. Please try sending it again."},
	ProcessingError: {ProcessingError, CategoryTechnical,
		"processing failed after exhausting retries",
		"We could not process your message due to a temporary problem. Please try again later."},

	MalwareDetected: {MalwareDetected, CategorySecurity,
		"payload matched a known malicious signature",
		"Your file was blocked for security reasons."},
	SuspiciousPayload: {SuspiciousPayload, CategorySecurity,
		"executable or non-audio content disguised as audio",
		"Your file was blocked because it does not look like a genuine audio recording."},

	SubscriptionExpired: {SubscriptionExpired, CategoryBusiness,
		"recipient subscription inactive or expired",
		"The recipient's mailbox is currently inactive and cannot receive messages."},
	UsageLimitExceeded: {UsageLimitExceeded, CategoryBusiness,
		"recipient monthly quota reached",
		"The recipient has reached their monthly message limit. Please try again next month."},
}

// Lookup returns the reason for a code.
func Lookup(code Code) (Reason, bool) {
	r, ok := catalog[code]
	return r, ok
}

// All returns every reason in the catalog. Order is not significant.
func All() []Reason {
	out := make([]Reason, 0, len(catalog))
	for _, r := range catalog {
		out = append(out, r)
	}
	return out
}

// categoryPriority fixes the precedence used to break ties between
// simultaneous signals: security > policy > spam > quality. Categories that
// never compete in analysis carry zero.
var categoryPriority = map[Category]int{
	CategorySecurity: 4,
	CategoryPolicy:   3,
	CategorySpam:     2,
	CategoryQuality:  1,
}

// Priority returns the tie-break rank of a category; higher wins.
func (c Category) Priority() int {
	return categoryPriority[c]
}

// Dominant selects the highest-priority code from a candidate set. Ties
// within a category resolve to the earliest candidate, so identical inputs
// always produce the same choice.
func Dominant(codes []Code) (Code, bool) {
	var (
		best     Code
		bestRank = -1
	)
	for _, code := range codes {
		r, ok := catalog[code]
		if !ok {
			continue
		}
		if rank := r.Category.Priority(); rank > bestRank {
			best = code
			bestRank = rank
		}
	}
	return best, bestRank >= 0
}
