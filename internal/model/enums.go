package model

import (
	"log/slog"
	"strconv"
)

type TriggerSource int

const (
	TriggerUnknown       TriggerSource = -1
	TriggerManual        TriggerSource = 0
	TriggerRemote        TriggerSource = 1
	TriggerIndoorMotion  TriggerSource = 2
	TriggerOutdoorMotion TriggerSource = 3
)

func (t TriggerSource) String() string {
	switch t {
	case TriggerManual:
		return "manual"
	case TriggerRemote:
		return "remote"
	case TriggerIndoorMotion:
		return "indoor_motion"
	case TriggerOutdoorMotion:
		return "outdoor_motion"
	}
	return "unknown"
}

func ParseTriggerSource(code int, logger *slog.Logger) TriggerSource {
	switch t := TriggerSource(code); t {
	case TriggerManual, TriggerRemote, TriggerIndoorMotion, TriggerOutdoorMotion:
		return t
	}
	warnUnknown(logger, "event trigger source", code)
	return TriggerUnknown
}

type Classification int

const (
	ClassificationUnknown       Classification = 0
	ClassificationClear         Classification = 1
	ClassificationSuspicious    Classification = 2
	ClassificationContraband    Classification = 3
	ClassificationHumanActivity Classification = 4
	ClassificationRemoteUnlock  Classification = 10
)

func (c Classification) String() string {
	switch c {
	case ClassificationClear:
		return "clear"
	case ClassificationSuspicious:
		return "suspicious"
	case ClassificationContraband:
		return "contraband"
	case ClassificationHumanActivity:
		return "human_activity"
	case ClassificationRemoteUnlock:
		return "remote_unlock"
	}
	return "unknown"
}

func ParseClassification(code int, logger *slog.Logger) Classification {
	switch c := Classification(code); c {
	case ClassificationUnknown, ClassificationClear, ClassificationSuspicious,
		ClassificationContraband, ClassificationHumanActivity, ClassificationRemoteUnlock:
		return c
	}
	warnUnknown(logger, "event classification", code)
	return ClassificationUnknown
}

type MotionState int

const (
	MotionUnknown MotionState = 0
	MotionNone    MotionState = 1
	MotionIndoor  MotionState = 2
	MotionOutdoor MotionState = 3
)

func (m MotionState) String() string {
	switch m {
	case MotionNone:
		return "none"
	case MotionIndoor:
		return "indoor"
	case MotionOutdoor:
		return "outdoor"
	}
	return "unknown"
}

func ParseMotionState(code int, logger *slog.Logger) MotionState {
	switch m := MotionState(code); m {
	case MotionUnknown, MotionNone, MotionIndoor, MotionOutdoor:
		return m
	}
	warnUnknown(logger, "motion sensor state", code)
	return MotionUnknown
}

type FlapState int

const (
	FlapUnknown     FlapState = -1
	FlapClosed      FlapState = 0
	FlapOpenOutward FlapState = 1
	FlapOpenInward  FlapState = 2
	FlapInvalid     FlapState = 3
)

func (f FlapState) String() string {
	switch f {
	case FlapClosed:
		return "closed"
	case FlapOpenOutward:
		return "open_outward"
	case FlapOpenInward:
		return "open_inward"
	case FlapInvalid:
		return "invalid"
	}
	return "unknown"
}

func ParseFlapState(code int, logger *slog.Logger) FlapState {
	switch f := FlapState(code); f {
	case FlapClosed, FlapOpenOutward, FlapOpenInward, FlapInvalid:
		return f
	}
	warnUnknown(logger, "flap state", code)
	return FlapUnknown
}

type SoundAction string

const (
	SoundUnknown   SoundAction = "unknown"
	SoundAffirm    SoundAction = "affirm"
	SoundAlarm     SoundAction = "alarm"
	SoundAngryMeow SoundAction = "angry-meow"
	SoundBell      SoundAction = "bell"
	SoundChoir     SoundAction = "choir"
	SoundCoin      SoundAction = "coin"
	SoundDeny      SoundAction = "deny"
	SoundFanfare   SoundAction = "fanfare"
	SoundSuccess   SoundAction = "success"
)

func ParseSoundAction(value string, logger *slog.Logger) SoundAction {
	switch s := SoundAction(value); s {
	case SoundAffirm, SoundAlarm, SoundAngryMeow, SoundBell, SoundChoir,
		SoundCoin, SoundDeny, SoundFanfare, SoundSuccess:
		return s
	}
	warnUnknown(logger, "sound action", value)
	return SoundUnknown
}

type PolicyResult int

const (
	PolicyUnknown PolicyResult = iota
	PolicyLocked
	PolicyUnlocked
)

func (p PolicyResult) String() string {
	switch p {
	case PolicyLocked:
		return "locked"
	case PolicyUnlocked:
		return "unlocked"
	}
	return "unknown"
}

func (p PolicyResult) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PolicyResult) UnmarshalText(text []byte) error {
	switch string(text) {
	case "locked":
		*p = PolicyLocked
	case "unlocked":
		*p = PolicyUnlocked
	default:
		*p = PolicyUnknown
	}
	return nil
}

type UpdateType string

const (
	UpdateUnknown UpdateType = "unknown"
	UpdateCreate  UpdateType = "create"
	UpdateUpdate  UpdateType = "update"
	UpdateDelete  UpdateType = "delete"
)

func ParseUpdateType(value string, logger *slog.Logger) UpdateType {
	if value == "" {
		return UpdateUnknown
	}
	switch u := UpdateType(value); u {
	case UpdateCreate, UpdateUpdate, UpdateDelete:
		return u
	}
	warnUnknown(logger, "update type", value)
	return UpdateUnknown
}

func warnUnknown(logger *slog.Logger, kind string, value any) {
	if logger == nil {
		return
	}
	var v string
	switch x := value.(type) {
	case int:
		v = strconv.Itoa(x)
	case string:
		v = x
	}
	logger.Warn("unknown "+kind, "value", v)
}
