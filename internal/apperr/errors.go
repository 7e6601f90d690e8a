package apperr

var (
	ErrInvalidBody       = BadRequest("Invalid request body")
	ErrUnauthenticated   = Unauthorized("Unauthenticated")
	ErrForbidden         = Forbidden("Forbidden")
	ErrUserNotFound      = NotFound("User not found")
	ErrProductNotFound   = NotFound("Product not found")
	ErrConversationNF    = NotFound("Conversation not found")
	ErrNotificationNF    = NotFound("Notification not found")
	ErrReviewNotFound    = NotFound("Review not found")
	ErrDisputeNotFound   = NotFound("Dispute not found")
	ErrEmailTaken        = InvalidArg("The email has already been taken.")
	ErrInvalidLogin      = Unauthorized("Invalid credentials")
	ErrCannotBanAdmin    = Forbidden("Cannot ban an administrator")
	ErrUserNotBanned     = FailedPrecondition("User is not banned")
	ErrTooManyRequests   = New(CodeRateLimited, "Too many requests")
	ErrNotAParticipant   = Forbidden("You are not a participant of this conversation")
	ErrMessageEmpty      = InvalidArg("The text or image field is required.")
	ErrMissingRecipient  = InvalidArg("The seller_id field is required when conversation_id is not present.")
	ErrMessageToYourself = InvalidArg("You cannot start a conversation with yourself.")
)
