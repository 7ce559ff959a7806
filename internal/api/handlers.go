package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/database"
	"github.com/npezzotti/go-community/internal/server"
	"github.com/npezzotti/go-community/internal/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	FirstName      string `json:"user_fname" validate:"required,max=100"`
	LastName       string `json:"user_lname" validate:"required,max=100"`
	ProfilePicture string `json:"user_profile_picture" validate:"omitempty,max=2048"`
}

type SessionResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type CreateChatroomRequest struct {
	Name         string `json:"name" validate:"max=255"`
	Photo        string `json:"chatroom_photo" validate:"max=2048"`
	Participants []int  `json:"participants" validate:"required,min=1,dive,gt=0"`
}

type UpdateChatroomRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=255"`
	Photo *string `json:"chatroom_photo" validate:"omitempty,max=2048"`
}

type InviteParticipantsRequest struct {
	UserIds []int `json:"user_ids" validate:"required,min=1,dive,gt=0"`
}

type SendMessageRequest struct {
	ChatroomId int    `json:"chatroom_id" validate:"required,gt=0"`
	Content    string `json:"content"`
}

type ReactRequest struct {
	MessageId int    `json:"message_id" validate:"required,gt=0"`
	React     string `json:"react" validate:"required"`
}

type PushSubscriptionRequest struct {
	DeviceId     string          `json:"device_id" validate:"required,max=255"`
	Subscription json.RawMessage `json:"subscription" validate:"required"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *App) writeOK(w http.ResponseWriter, statusCode int, msg string, data any) {
	s.writeJson(w, statusCode, Envelope{Msg: msg, Data: data, Success: true, Code: codeSuccess})
}

func (s *App) writeError(w http.ResponseWriter, err error) {
	apiErr := toApiError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("request failed: %v", err)
	}
	s.writeJson(w, apiErr.StatusCode, apiErr.Envelope())
}

// decodeJson reads a JSON body into v and validates it.
func decodeJson(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError("invalid request body")
	}
	return validateRequest(v)
}

func validateRequest(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewBadRequestError(fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return NewBadRequestError("invalid request")
	}
	return nil
}

func pathId(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, NewBadRequestError("invalid " + name)
	}
	return id, nil
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check failed:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func userFromAccount(u database.User) types.User {
	return types.User{
		Id:             u.Id,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		Email:          u.EmailAddress,
		Role:           u.Role,
	}
}

func (s *App) startSession(w http.ResponseWriter, statusCode int, msg string, user types.User) {
	token, err := s.createJwtForSession(user, s.tokenTTL)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.tokenTTL))
	s.writeOK(w, statusCode, msg, SessionResponse{User: user, Token: token})
}

func (s *App) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		EmailAddress:   strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:   pwdHash,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Role:           "user",
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			s.writeError(w, chat.NewConflictError("email already registered"))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.startSession(w, http.StatusCreated, "Account created", userFromAccount(newUser))
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError("invalid email or password"))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		s.writeError(w, NewUnauthorizedError("invalid email or password"))
		return
	}

	s.startSession(w, http.StatusOK, "Login successful", userFromAccount(dbUser))
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError(""))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeOK(w, http.StatusOK, "Session active", userFromAccount(user))
}

func (s *App) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", -1))
	s.writeOK(w, http.StatusOK, "Logged out", nil)
}

func (s *App) listChatrooms(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	rooms, err := s.chat.ListChatrooms(userId, r.URL.Query().Get("search"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rooms == nil {
		rooms = []types.ChatroomSummary{}
	}

	s.writeOK(w, http.StatusOK, "Chatrooms retrieved", rooms)
}

func (s *App) createChatroom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateChatroomRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	room, err := s.chat.CreateChatroom(chat.CreateChatroomParams{
		CreatorId:      userId,
		Name:           req.Name,
		Photo:          req.Photo,
		ParticipantIds: req.Participants,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusCreated, "Chatroom created", room)
}

func (s *App) updateChatroom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chatroomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req UpdateChatroomRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	room, err := s.chat.UpdateChatroom(userId, chat.UpdateChatroomParams{
		ChatroomId: chatroomId,
		Name:       req.Name,
		Photo:      req.Photo,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Chatroom updated", room)
}

func (s *App) inviteParticipants(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chatroomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req InviteParticipantsRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	added, err := s.chat.InviteParticipants(userId, chatroomId, req.UserIds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if added == nil {
		added = []types.Participant{}
	}

	s.writeOK(w, http.StatusOK, "Participants added", added)
}

func (s *App) leaveChatroom(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chatroomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.chat.LeaveChatroom(userId, chatroomId); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Left chatroom", nil)
}

func (s *App) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chatroomId, err := pathId(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	page, err := chat.ParsePage(q.Get("before"), q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	list, err := s.chat.ListMessages(chatroomId, userId, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list.Messages == nil {
		list.Messages = []types.Message{}
	}

	s.writeOK(w, http.StatusOK, "Messages retrieved", list)
}

// sendMessage accepts either a JSON body or a multipart form with an
// optional file attachment.
func (s *App) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var (
		req     SendMessageRequest
		fileUrl string
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, NewTooLargeError())
				return
			}
			s.writeError(w, NewBadRequestError("invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		id, err := strconv.Atoi(r.FormValue("chatroom_id"))
		if err != nil {
			s.writeError(w, NewBadRequestError("invalid chatroom_id"))
			return
		}
		req = SendMessageRequest{ChatroomId: id, Content: r.FormValue("content")}
		if err := validateRequest(&req); err != nil {
			s.writeError(w, err)
			return
		}

		// membership is checked before anything is written to disk
		ok, err := s.chat.IsParticipant(req.ChatroomId, userId)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			s.writeError(w, &ApiError{StatusCode: http.StatusForbidden, Message: "you are not a participant of this chatroom"})
			return
		}

		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			s.writeError(w, NewBadRequestError("invalid file"))
			return
		default:
			defer file.Close()
			fileUrl, err = s.saveUpload(file, header.Size)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}
	} else if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	msg, err := s.chat.SendMessage(chat.SendMessageParams{
		SenderId:   userId,
		ChatroomId: req.ChatroomId,
		Content:    req.Content,
		FileUrl:    fileUrl,
	})
	if err != nil {
		if fileUrl != "" {
			s.removeUpload(fileUrl)
		}
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusCreated, "Message sent", msg)
}

func (s *App) reactToMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req ReactRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	reaction, err := s.chat.ReactToMessage(userId, req.MessageId, req.React)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusOK, "Reaction saved", reaction)
}

func (s *App) registerPushSubscription(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req PushSubscriptionRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	sub, err := s.push.Register(userId, req.DeviceId, req.Subscription)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeOK(w, http.StatusCreated, "Subscription saved", sub)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	dbUser, err := s.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError(""))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	server.NewClient(userFromAccount(dbUser), conn, s.hub, s.log).Serve()
}
